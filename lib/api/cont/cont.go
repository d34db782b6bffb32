package cont

import (
	"context"
	"warreg/entity"
)

type ctxKey string

const UserDataKey ctxKey = "userData"

// PutUser stores the authenticated admin in the request context so
// handlers can stamp claim_processed_by with the acting identity.
func PutUser(c context.Context, user *entity.User) context.Context {
	return context.WithValue(c, UserDataKey, *user)
}

func GetUser(c context.Context) *entity.User {
	user, ok := c.Value(UserDataKey).(entity.User)
	if !ok {
		return &entity.User{}
	}
	return &user
}
