package dto

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type VerifyPINRequest struct {
	Email string `json:"email"`
	PIN   string `json:"pin"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email"`
	PIN         string `json:"pin"`
	NewPassword string `json:"newPassword"`
}
