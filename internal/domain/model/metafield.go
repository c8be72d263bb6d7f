package model

// MetafieldType is the declared value type of a metafield.
type MetafieldType string

const (
	MetafieldJSON          MetafieldType = "json"
	MetafieldNumberDecimal MetafieldType = "number_decimal"
	MetafieldNumberInteger MetafieldType = "number_integer"
)

// MetafieldRef addresses one metafield on a product.
type MetafieldRef struct {
	OwnerID   ProductID
	Namespace string
	Key       string
}

func (r MetafieldRef) String() string {
	return "product/" + string(r.OwnerID) + " " + r.Namespace + "." + r.Key
}

// Metafield is a typed value to be written to a MetafieldRef.
type Metafield struct {
	Ref   MetafieldRef
	Value string
	Type  MetafieldType
}

// Metafields owned by the rating widget.
const (
	StarRatingsNamespace = "custom"
	StarRatingsKey       = "star_ratings"

	ReviewsNamespace = "reviews"
	AverageRatingKey = "average_rating"
	TotalRatingsKey  = "total_ratings"
)

// StarRatingsRef is the raw history field for a product.
func StarRatingsRef(id ProductID) MetafieldRef {
	return MetafieldRef{OwnerID: id, Namespace: StarRatingsNamespace, Key: StarRatingsKey}
}

// AverageRatingRef is the derived average field for a product.
func AverageRatingRef(id ProductID) MetafieldRef {
	return MetafieldRef{OwnerID: id, Namespace: ReviewsNamespace, Key: AverageRatingKey}
}

// TotalRatingsRef is the derived count field for a product.
func TotalRatingsRef(id ProductID) MetafieldRef {
	return MetafieldRef{OwnerID: id, Namespace: ReviewsNamespace, Key: TotalRatingsKey}
}
