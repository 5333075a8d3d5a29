package domainauth

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Provider for tests.
type Fake struct {
	mu     sync.Mutex
	nextID int

	// ValidNow makes Authenticate report the domain as synchronously valid.
	ValidNow bool

	// Validations scripts Validate answers per reference id. Unscripted ids
	// answer "not yet propagated".
	Validations map[string]*ValidationResult

	AuthenticateErr error
	ValidateErr     error
	DeleteErr       error

	Registered map[string]string
	Deleted    []string
}

func NewFake() *Fake {
	return &Fake{
		Validations: make(map[string]*ValidationResult),
		Registered:  make(map[string]string),
	}
}

func (f *Fake) Authenticate(ctx context.Context, domain string) (*Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AuthenticateErr != nil {
		return nil, f.AuthenticateErr
	}
	f.nextID++
	reference := fmt.Sprintf("ref-%d", f.nextID)
	f.Registered[reference] = domain
	return &Registration{
		ReferenceID: reference,
		Records: []DNSRecord{
			{Name: RecordMailCNAME, Type: "CNAME", Host: "em100." + domain, Value: "u100.wl.sink.test", Valid: f.ValidNow},
			{Name: RecordDKIM1, Type: "CNAME", Host: "s1._domainkey." + domain, Value: "s1.domainkey.u100.wl.sink.test", Valid: f.ValidNow},
			{Name: RecordDKIM2, Type: "CNAME", Host: "s2._domainkey." + domain, Value: "s2.domainkey.u100.wl.sink.test", Valid: f.ValidNow},
		},
		Valid: f.ValidNow,
	}, nil
}

func (f *Fake) Validate(ctx context.Context, referenceID string) (*ValidationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ValidateErr != nil {
		return nil, f.ValidateErr
	}
	if result, ok := f.Validations[referenceID]; ok {
		return result, nil
	}
	if _, ok := f.Registered[referenceID]; !ok {
		return nil, &ProviderError{Status: 404, Message: "unknown domain"}
	}
	return &ValidationResult{
		Valid: false,
		Records: map[string]RecordResult{
			RecordMailCNAME: {Valid: false, Reason: "record not found"},
			RecordDKIM1:     {Valid: false, Reason: "record not found"},
			RecordDKIM2:     {Valid: false, Reason: "record not found"},
		},
	}, nil
}

func (f *Fake) Delete(ctx context.Context, referenceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.Registered, referenceID)
	f.Deleted = append(f.Deleted, referenceID)
	return nil
}
