// internal/license/license.go
package license

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/keygen-sh/keygen-go/v3"
	"go.uber.org/zap"
)

var (
	ErrExpired  = errors.New("license has expired")
	ErrNotFound = errors.New("license not found")
)

// Settings identify the license and the Keygen product it belongs to.
type Settings struct {
	Key          string
	AccountID    string
	ProductID    string
	ProductToken string
}

// Configured reports whether every Keygen field is present.
func (s Settings) Configured() bool {
	return s.Key != "" && s.AccountID != "" && s.ProductID != "" && s.ProductToken != ""
}

// Validator checks the license against Keygen and activates this machine
// on first use.
type Validator struct {
	settings Settings
	logger   *zap.Logger

	validate    func(ctx context.Context, fingerprint string) (*keygen.License, error)
	activate    func(ctx context.Context, l *keygen.License, fingerprint string) (string, error)
	fingerprint func() (string, error)
}

func NewValidator(settings Settings, logger *zap.Logger) *Validator {
	return &Validator{
		settings: settings,
		logger:   logger.Named("license"),
		validate: func(ctx context.Context, fingerprint string) (*keygen.License, error) {
			keygen.Account = settings.AccountID
			keygen.Product = settings.ProductID
			keygen.Token = settings.ProductToken
			keygen.LicenseKey = settings.Key
			return keygen.Validate(ctx, fingerprint)
		},
		activate: func(ctx context.Context, l *keygen.License, fingerprint string) (string, error) {
			machine, err := l.Activate(ctx, fingerprint)
			if err != nil {
				return "", err
			}
			return machine.ID, nil
		},
		fingerprint: machineFingerprint,
	}
}

// Check validates the license. Without complete settings the check is
// skipped and nil is returned.
func (v *Validator) Check(ctx context.Context) error {
	if !v.settings.Configured() {
		v.logger.Info("License check skipped, Keygen not configured")
		return nil
	}
	v.logger.Info("🔑 Validating license", zap.String("key", mask(v.settings.Key)))

	fingerprint, err := v.fingerprint()
	if err != nil {
		return fmt.Errorf("failed to generate machine fingerprint: %w", err)
	}

	lic, err := v.validate(ctx, fingerprint)
	switch {
	case errors.Is(err, keygen.ErrLicenseNotActivated):
		if lic == nil {
			return ErrNotFound
		}
		v.logger.Info("License not activated, activating this machine")
		machineID, actErr := v.activate(ctx, lic, fingerprint)
		if actErr != nil {
			return fmt.Errorf("failed to activate license: %w", actErr)
		}
		v.logger.Info("License activated", zap.String("machine_id", machineID))
	case errors.Is(err, keygen.ErrLicenseExpired):
		return ErrExpired
	case err != nil:
		return fmt.Errorf("license validation failed: %w", err)
	}

	if lic == nil {
		return ErrNotFound
	}
	v.logger.Info("✅ License valid", zap.String("license_id", lic.ID))
	return nil
}

// Heartbeat revalidates every interval until ctx is done. Failures are
// logged; they never stop the process.
func (v *Validator) Heartbeat(ctx context.Context, interval time.Duration) error {
	if !v.settings.Configured() || interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fingerprint, err := v.fingerprint()
			if err == nil {
				_, err = v.validate(ctx, fingerprint)
			}
			if err != nil {
				v.logger.Warn("License heartbeat failed", zap.Error(err))
				continue
			}
			v.logger.Debug("License heartbeat sent")
		}
	}
}

func mask(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:8] + "..."
}

// machineFingerprint hashes the hostname, the first hardware address of an
// up, non-loopback interface and the OS.
func machineFingerprint() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	var macs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 && len(iface.HardwareAddr) > 0 {
			macs = append(macs, iface.HardwareAddr.String())
		}
	}
	if len(macs) == 0 {
		return "", fmt.Errorf("no network interfaces found")
	}
	sort.Strings(macs)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s", hostname, macs[0], runtime.GOOS)))
	return fmt.Sprintf("%x", sum), nil
}
