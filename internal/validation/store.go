package validation

import "context"

// Entity names used for id allocation.
const (
	EntityValidation = "validation"
	EntityChallenge  = "challenge"
)

// Reader is the read side of the validation tables. Missing rows are NOT_FOUND.
type Reader interface {
	GetConfig(ctx context.Context) (Config, error)
	GetValidator(ctx context.Context, account string) (Validator, error)
	GetValidation(ctx context.Context, id uint64) (Validation, error)
	GetChallenge(ctx context.Context, id uint64) (Challenge, error)
	ListValidationsByValidator(ctx context.Context, validator string) ([]Validation, error)
	ListChallengesByValidation(ctx context.Context, validationID uint64) ([]Challenge, error)
}

// Tx is a unit of work committed by WithinTx.
type Tx interface {
	Reader
	NextID(ctx context.Context, entity string) (uint64, error)
	SaveConfig(ctx context.Context, cfg Config) error
	SaveValidator(ctx context.Context, v Validator) error
	SaveValidation(ctx context.Context, v Validation) error
	SaveChallenge(ctx context.Context, c Challenge) error
}

// Store persists validation entities.
type Store interface {
	Reader
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
