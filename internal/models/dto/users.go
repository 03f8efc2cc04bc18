package dto

// UpdateUserRequest carries a partial profile update. Nil fields are left unchanged.
type UpdateUserRequest struct {
	FullName   *string `json:"fullName"`
	Email      *string `json:"email"`
	Password   *string `json:"password"`
	Phone      *string `json:"phone"`
	Address    *string `json:"address"`
	Occupation *string `json:"occupation"`
	Role       *string `json:"role"`
}

type CountResponse struct {
	UserCount int64 `json:"userCount"`
}
