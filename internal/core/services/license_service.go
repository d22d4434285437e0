package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/luminahq/lumina/internal/core/domain"
	"github.com/luminahq/lumina/internal/core/ports"
	"github.com/luminahq/lumina/internal/infrastructure/metrics"
)

// KeyOptions controls how license keys are generated when a create request
// does not carry one.
type KeyOptions struct {
	Prefix string
	Length int
}

type licenseService struct {
	store   ports.Store
	keyOpts KeyOptions
}

func NewLicenseService(store ports.Store, keyOpts KeyOptions) ports.LicenseService {
	if keyOpts.Prefix == "" {
		keyOpts.Prefix = domain.DefaultKeyPrefix
	}
	if keyOpts.Length <= 0 {
		keyOpts.Length = domain.DefaultKeyLength
	}
	return &licenseService{store: store, keyOpts: keyOpts}
}

// Verify walks the policy chain in order; the first failing step terminates
// with valid=false and a message. Only storage failures return an error.
func (s *licenseService) Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResult, error) {
	start := time.Now()
	defer func() {
		metrics.VerificationDuration.Observe(time.Since(start).Seconds())
	}()

	lic, err := s.store.GetByKey(ctx, req.LicenseKey)
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues("error", "store").Inc()
		return nil, err
	}
	if lic == nil {
		return reject("not_found", "Invalid license key"), nil
	}

	if lic.Status != domain.StatusActive {
		return reject("status", fmt.Sprintf("License is %s", lic.Status)), nil
	}

	if lic.Expired(time.Now()) {
		result := reject("expired", "License has expired")
		result.ExpiryDate = lic.ExpiryDate
		return result, nil
	}

	if lic.MachineBinding && req.MachineCode != "" && !domain.ValidateMachineCode(req.MachineCode) {
		return reject("machine_code", "Invalid machine code format"), nil
	}

	if len(lic.IPWhitelist) > 0 && req.IP != "" && !whitelisted(lic.IPWhitelist, req.IP) {
		return reject("ip", "IP address not authorized"), nil
	}

	// An activation must be attributable to something. Without an identity
	// the ledger could never match the caller again and every call would
	// burn a fresh slot.
	if lic.ActivationIdentity(req.MachineCode, req.IP) == "" {
		return reject("identity", "Machine code or IP address required"), nil
	}

	// Known identity: bump the verification counters. Unknown identity:
	// AddActivation owns the quota decision; losing a race to an identical
	// identity degrades to the update path.
	updated, err := s.store.UpdateVerification(ctx, req.LicenseKey, req.MachineCode, req.IP)
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues("error", "store").Inc()
		return nil, err
	}
	if !updated {
		created, errAct := s.store.AddActivation(ctx, req.LicenseKey, req.MachineCode, req.IP)
		if errors.Is(errAct, domain.ErrMaxActivations) {
			return reject("quota", "Maximum activations reached"), nil
		}
		if errAct != nil {
			metrics.VerificationsTotal.WithLabelValues("error", "store").Inc()
			return nil, errAct
		}
		if created {
			metrics.ActivationsTotal.Inc()
		} else {
			if _, errUpd := s.store.UpdateVerification(ctx, req.LicenseKey, req.MachineCode, req.IP); errUpd != nil {
				metrics.VerificationsTotal.WithLabelValues("error", "store").Inc()
				return nil, errUpd
			}
		}
	}

	snapshot, err := s.store.GetByKey(ctx, req.LicenseKey)
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues("error", "store").Inc()
		return nil, err
	}
	if snapshot == nil {
		// Deleted between the policy checks and the re-read.
		return reject("not_found", "Invalid license key"), nil
	}

	remaining := snapshot.MaxActivations - len(snapshot.Activations)
	if remaining < 0 {
		remaining = 0
	}
	metrics.VerificationsTotal.WithLabelValues("valid", "ok").Inc()
	return &domain.VerifyResult{
		Valid:                true,
		Message:              "License verified successfully",
		License:              snapshot,
		RemainingActivations: &remaining,
		ExpiryDate:           snapshot.ExpiryDate,
	}, nil
}

func reject(reason, message string) *domain.VerifyResult {
	metrics.VerificationsTotal.WithLabelValues("invalid", reason).Inc()
	return &domain.VerifyResult{Valid: false, Message: message}
}

func whitelisted(ips []string, ip string) bool {
	for _, allowed := range ips {
		if allowed == ip {
			return true
		}
	}
	return false
}

func (s *licenseService) Create(ctx context.Context, lic *domain.License) (*domain.License, error) {
	if lic.Key == "" {
		lic.Key = domain.GenerateKey(s.keyOpts.Prefix, s.keyOpts.Length)
	} else if !domain.ValidateKeyFormat(lic.Key) {
		return nil, fmt.Errorf("%w: malformed license key %q", domain.ErrValidation, lic.Key)
	}

	if strings.TrimSpace(lic.Product) == "" {
		return nil, fmt.Errorf("%w: product is required", domain.ErrValidation)
	}
	if strings.TrimSpace(lic.Customer) == "" {
		return nil, fmt.Errorf("%w: customer is required", domain.ErrValidation)
	}
	if lic.Email != "" && !domain.ValidateEmail(lic.Email) {
		return nil, fmt.Errorf("%w: invalid email %q", domain.ErrValidation, lic.Email)
	}
	if err := domain.ValidateIPWhitelist(lic.IPWhitelist); err != nil {
		return nil, err
	}

	if lic.Version == "" {
		lic.Version = "1.0.0"
	}
	if lic.Status == "" {
		lic.Status = domain.StatusActive
	}
	if lic.MaxActivations <= 0 {
		lic.MaxActivations = 1
	}
	if lic.IPWhitelist == nil {
		lic.IPWhitelist = []string{}
	}
	if lic.Activations == nil {
		lic.Activations = []domain.ActivationRecord{}
	}

	now := time.Now().UTC()
	if lic.CreatedAt.IsZero() {
		lic.CreatedAt = now
	}
	if lic.UpdatedAt.IsZero() {
		lic.UpdatedAt = now
	}
	if lic.ExpiryDate != nil {
		utc := lic.ExpiryDate.UTC()
		lic.ExpiryDate = &utc
	}

	if err := s.store.Create(ctx, lic); err != nil {
		return nil, err
	}
	return lic, nil
}

func (s *licenseService) Get(ctx context.Context, key string) (*domain.License, error) {
	return s.store.GetByKey(ctx, key)
}

func (s *licenseService) GetAll(ctx context.Context) ([]domain.License, error) {
	return s.store.GetAll(ctx)
}

func (s *licenseService) Update(ctx context.Context, key string, upd domain.LicenseUpdate) (*domain.License, error) {
	if upd.Email != nil && *upd.Email != "" && !domain.ValidateEmail(*upd.Email) {
		return nil, fmt.Errorf("%w: invalid email %q", domain.ErrValidation, *upd.Email)
	}
	if upd.IPWhitelist != nil {
		if err := domain.ValidateIPWhitelist(upd.IPWhitelist); err != nil {
			return nil, err
		}
	}
	if upd.MaxActivations != nil && *upd.MaxActivations <= 0 {
		return nil, fmt.Errorf("%w: max_activations must be positive", domain.ErrValidation)
	}
	return s.store.Update(ctx, key, upd)
}

func (s *licenseService) Delete(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}

func (s *licenseService) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		metrics.StoreUp.Set(0)
		return err
	}
	metrics.StoreUp.Set(1)
	return nil
}
