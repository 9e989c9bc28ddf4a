package domain

// KidStats summarizes a kid's outdoor progress.
type KidStats struct {
	Challenges     int `json:"challenges"`
	Badges         int `json:"badges"`
	OutdoorMinutes int `json:"outdoorMinutes"`
}

// Kid is a kid profile owned by a parent account.
type Kid struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Age         int      `json:"age"`
	AvatarColor string   `json:"avatarColor,omitempty"`
	Interests   []string `json:"interests"`
	Points      int      `json:"points"`
	Stats       KidStats `json:"stats"`
	CreatedAt   string   `json:"createdAt,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

// KidInput carries the fields a parent supplies when adding a kid.
type KidInput struct {
	Name        string   `json:"name" validate:"required,max=64"`
	Age         int      `json:"age" validate:"required,gte=1,lte=17"`
	AvatarColor string   `json:"avatarColor" validate:"omitempty,max=64"`
	Interests   []string `json:"interests" validate:"omitempty,max=20,dive,max=64"`
}

// KidPatch carries a partial kid update; nil fields are left untouched.
type KidPatch struct {
	Name        *string  `json:"name,omitempty" validate:"omitempty,max=64"`
	Age         *int     `json:"age,omitempty" validate:"omitempty,gte=1,lte=17"`
	AvatarColor *string  `json:"avatarColor,omitempty" validate:"omitempty,max=64"`
	Interests   []string `json:"interests,omitempty" validate:"omitempty,max=20,dive,max=64"`
}
