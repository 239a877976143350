package api

import (
	"context"
	"net/http"
	"strings"
)

type detailResponse struct {
	Detail string `json:"detail"`
}

// Signup registers an account and triggers an OTP email.
// Returns the backend's confirmation message.
func (c *Client) Signup(ctx context.Context, name, email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", &ValidationError{Field: "email", Message: "is required"}
	}
	var out detailResponse
	body := map[string]string{"name": name, "email": email}
	if err := c.call(ctx, http.MethodPost, "/api/users/signup/", nil, body, &out, false); err != nil {
		return "", err
	}
	return out.Detail, nil
}

// VerifyOTP confirms a new account and returns its first token pair
func (c *Client) VerifyOTP(ctx context.Context, email, otp string) (*AuthResponse, error) {
	if err := requireOTP(email, otp); err != nil {
		return nil, err
	}
	var out AuthResponse
	body := map[string]string{"email": email, "otp": otp}
	if err := c.call(ctx, http.MethodPost, "/api/users/verify/", nil, body, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges an emailed OTP for tokens and the user profile
func (c *Client) Login(ctx context.Context, email, otp string) (*AuthResponse, error) {
	if err := requireOTP(email, otp); err != nil {
		return nil, err
	}
	var out AuthResponse
	body := map[string]string{"email": email, "otp": otp}
	if err := c.call(ctx, http.MethodPost, "/api/users/login/", nil, body, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func requireOTP(email, otp string) error {
	if strings.TrimSpace(email) == "" {
		return &ValidationError{Field: "email", Message: "is required"}
	}
	if strings.TrimSpace(otp) == "" {
		return &ValidationError{Field: "otp", Message: "is required"}
	}
	return nil
}
