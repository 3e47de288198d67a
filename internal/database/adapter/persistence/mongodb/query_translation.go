package mongodb

import (
	"arc-database/internal/database/domain/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// fieldPath maps the implicit id field onto _id.
func fieldPath(field string) string {
	if field == model.IDField {
		return mongoIDField
	}
	return field
}

// buildMongoFilter AND-combines the where clauses.
func buildMongoFilter(filters []model.Filter) bson.M {
	andFilters := make([]bson.M, 0, len(filters))
	for _, f := range filters {
		andFilters = append(andFilters, singleMongoFilter(f))
	}

	switch len(andFilters) {
	case 0:
		return bson.M{}
	case 1:
		return andFilters[0]
	}
	return bson.M{"$and": andFilters}
}

// singleMongoFilter translates one clause. MongoDB's type bracketing gives the
// same missing-field and mixed-type behaviour as the memory driver.
func singleMongoFilter(f model.Filter) bson.M {
	path := fieldPath(f.Field)
	switch f.Operator {
	case model.OperatorNotEqual:
		return bson.M{path: bson.M{"$ne": f.Value}}
	case model.OperatorGreaterThan:
		return bson.M{path: bson.M{"$gt": f.Value}}
	case model.OperatorGreaterThanOrEqual:
		return bson.M{path: bson.M{"$gte": f.Value}}
	case model.OperatorLessThan:
		return bson.M{path: bson.M{"$lt": f.Value}}
	case model.OperatorLessThanOrEqual:
		return bson.M{path: bson.M{"$lte": f.Value}}
	default:
		return bson.M{path: bson.M{"$eq": f.Value}}
	}
}

// buildMongoFindOptions applies orderBy with an _id tie-break and the limit.
// A zero limit must be handled by the caller; MongoDB reads it as unlimited.
func buildMongoFindOptions(query model.Query) *options.FindOptions {
	opts := options.Find()
	if query.Limit != nil && *query.Limit > 0 {
		opts.SetLimit(int64(*query.Limit))
	}
	if len(query.OrderBy) > 0 {
		sort := bson.D{}
		hasID := false
		for _, o := range query.OrderBy {
			order := 1
			if o.Direction == model.Descending {
				order = -1
			}
			path := fieldPath(o.Field)
			hasID = hasID || path == mongoIDField
			sort = append(sort, bson.E{Key: path, Value: order})
		}
		if !hasID {
			sort = append(sort, bson.E{Key: mongoIDField, Value: 1})
		}
		opts.SetSort(sort)
	}
	return opts
}
