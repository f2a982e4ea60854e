package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPSecrets is the storage surface the TOTP service needs.
type TOTPSecrets interface {
	GetByAccount(ctx context.Context, accountID uuid.UUID) (*TOTPSecret, error)
	Create(ctx context.Context, secret *TOTPSecret) (*TOTPSecret, error)
}

// TOTPSetup is returned once from Setup; the secret and URL are never
// recoverable afterwards.
type TOTPSetup struct {
	Secret     string
	OTPAuthURL string
}

// TOTPService provisions and verifies time-based one-time codes. The
// secret is held at rest under authenticated encryption so Verify can
// read it back.
type TOTPService struct {
	secrets TOTPSecrets
	box     *SecretBox
	issuer  string
	logger  Logger
	now     func() time.Time
}

// NewTOTPService wires the TOTP verifier.
func NewTOTPService(secrets TOTPSecrets, box *SecretBox, issuer string) *TOTPService {
	return &TOTPService{
		secrets: secrets,
		box:     box,
		issuer:  issuer,
		logger:  defLogger{},
		now:     time.Now,
	}
}

func (s *TOTPService) WithLogger(logger Logger) *TOTPService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *TOTPService) WithClock(now func() time.Time) *TOTPService {
	if now != nil {
		s.now = now
	}
	return s
}

// Setup generates and stores the authenticator secret for an account.
// It is exactly-once: a second call fails with a conflict.
func (s *TOTPService) Setup(ctx context.Context, accountID uuid.UUID, accountName string) (*TOTPSetup, error) {
	existing, err := s.secrets.GetByAccount(ctx, accountID)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, wrapInternal(err, "failed to look up authenticator secret")
	}
	if existing != nil {
		return nil, ErrTOTPAlreadyConfigured
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate authenticator secret")
	}

	ciphertext, nonce, err := s.box.Seal([]byte(key.Secret()))
	if err != nil {
		return nil, err
	}

	if _, err := s.secrets.Create(ctx, &TOTPSecret{
		AccountID:  accountID,
		Ciphertext: ciphertext,
		Nonce:      nonce,
	}); err != nil {
		// Concurrent setup loses the unique-constraint race.
		if IsConflict(err) {
			return nil, ErrTOTPAlreadyConfigured
		}
		return nil, wrapInternal(err, "failed to store authenticator secret")
	}

	return &TOTPSetup{Secret: key.Secret(), OTPAuthURL: key.URL()}, nil
}

// Verify checks a one-time code against the stored secret. Clock skew of
// one period either way is tolerated. Failures are uniform: the caller
// only learns the code did not verify.
func (s *TOTPService) Verify(ctx context.Context, accountID uuid.UUID, code string) error {
	record, err := s.secrets.GetByAccount(ctx, accountID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrTOTPNotConfigured
		}
		return wrapInternal(err, "failed to look up authenticator secret")
	}

	secret, err := s.box.Open(record.Ciphertext, record.Nonce)
	if err != nil {
		s.logger.Error("totp secret decryption failed", "account", accountID)
		return ErrBadCredentials
	}

	valid, err := totp.ValidateCustom(code, string(secret), s.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		return ErrBadCredentials
	}
	return nil
}
