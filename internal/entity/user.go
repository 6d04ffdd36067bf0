package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// DefaultUserRating is assigned to every new user.
const DefaultUserRating = 5.0

// User is a dispatcher or loader. Role never changes after creation.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        int64      `bun:"id,pk,autoincrement"`
	Name      string     `bun:"name,notnull"`
	Phone     string     `bun:"phone,notnull"`
	Role      Role       `bun:"role,notnull"`
	Rating    float64    `bun:"rating,notnull,default:5"`
	BirthDate *time.Time `bun:"birth_date"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
