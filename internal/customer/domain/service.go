package domain

import (
	"context"
	"errors"
)

type SignupRequest struct {
	DisplayName string
}

type GetCustomerRequest struct {
	ID string
}

type GetBySlugRequest struct {
	Slug string
}

type ChangePlanRequest struct {
	ID   string
	Plan string
}

type OverrideLimitRequest struct {
	ID           string
	MonthlyLimit int64
}

type StoreCredentialRequest struct {
	ID string
	// PlaintextKey is encrypted before it is stored. Empty clears the
	// stored credential.
	PlaintextKey string
}

type SetSubscriptionStatusRequest struct {
	ID     string
	Status string
}

type Service interface {
	Signup(context.Context, SignupRequest) (Customer, error)
	GetByID(context.Context, GetCustomerRequest) (Customer, error)
	GetBySlug(context.Context, GetBySlugRequest) (Customer, error)
	ChangePlan(context.Context, ChangePlanRequest) (Customer, error)
	OverrideMonthlyLimit(context.Context, OverrideLimitRequest) (Customer, error)
	StoreSendCredential(context.Context, StoreCredentialRequest) error
	// SendCredential returns the decrypted send key, or "" when the
	// customer has none stored and sends ride the operator credential.
	SendCredential(context.Context, GetCustomerRequest) (string, error)
	SetSubscriptionStatus(context.Context, SetSubscriptionStatusRequest) (Customer, error)
}

var (
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidSlug      = errors.New("invalid_slug")
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidLimit     = errors.New("invalid_limit")
	ErrSlugTaken        = errors.New("slug_taken")
	ErrCustomerNotFound = errors.New("customer_not_found")
)
