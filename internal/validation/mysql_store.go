package validation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/storage/mysql"
)

const (
	configColumns = `owner, directory_ref, symbol, min_stake, challenge_stake, unstake_delay_seconds,
        challenge_window_seconds, funding_period_seconds, slash_percent_bps, slash_recipient, dispute_period_seconds,
        funded_challenge_timeout_seconds, validation_fee, paused`
	validatorColumns = `account, method, specializations, stake, active, accuracy_score, total_validations,
        incorrect_validations, pending_challenges, unstake_amount, unstake_requested_at, registered_at, updated_at`
	validationColumns = `id, validator, agent, job_ref, result, confidence, evidence, challenged, created_at`
	challengeColumns  = `id, validation_id, validator, challenger, reason, evidence, stake, status, funding_deadline,
        funded_at, resolver, notes, slashed_amount, created_at, resolved_at`
)

var sequenceTables = map[string]string{
	EntityValidation: "validations",
	EntityChallenge:  "challenges",
}

// MySQLStore persists validation entities.
type MySQLStore struct {
	sqlQueries
	db *sql.DB
}

// NewMySQLStore wraps an open, migrated database.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{sqlQueries: sqlQueries{q: db}, db: db}
}

// WithinTx implements Store.
func (s *MySQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return mysql.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(ctx, &sqlQueries{q: tx})
	})
}

// Close releases the pool.
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqlQueries struct {
	q mysql.Querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func seconds(d time.Duration) int64 { return int64(d / time.Second) }

func duration(sec int64) time.Duration { return time.Duration(sec) * time.Second }

func (s *sqlQueries) GetConfig(ctx context.Context) (Config, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+configColumns+` FROM validation_config WHERE id = ?`, configSingletonKey)
	var (
		cfg                                        Config
		recipient                                  string
		unstake, window, funding, dispute, timeout int64
		paused                                     int64
	)
	err := row.Scan(&cfg.Owner, &cfg.DirectoryRef, &cfg.Symbol, &cfg.MinStake, &cfg.ChallengeStake, &unstake,
		&window, &funding, &cfg.SlashPercent, &recipient, &dispute, &timeout, &cfg.ValidationFee, &paused)
	if err != nil {
		return Config{}, mysql.NotFound(err, "validation config", configSingletonKey)
	}
	cfg.SlashRecipient = SlashRecipient(recipient)
	cfg.UnstakeDelay = duration(unstake)
	cfg.ChallengeWindow = duration(window)
	cfg.FundingPeriod = duration(funding)
	cfg.DisputePeriod = duration(dispute)
	cfg.FundedChallengeTimeout = duration(timeout)
	cfg.Paused = mysql.Bool(paused)
	return cfg, nil
}

func (s *sqlQueries) SaveConfig(ctx context.Context, cfg Config) error {
	const stmt = `INSERT INTO validation_config (id, ` + configColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE owner = VALUES(owner), directory_ref = VALUES(directory_ref), symbol = VALUES(symbol),
        min_stake = VALUES(min_stake), challenge_stake = VALUES(challenge_stake),
        unstake_delay_seconds = VALUES(unstake_delay_seconds), challenge_window_seconds = VALUES(challenge_window_seconds),
        funding_period_seconds = VALUES(funding_period_seconds), slash_percent_bps = VALUES(slash_percent_bps),
        slash_recipient = VALUES(slash_recipient), dispute_period_seconds = VALUES(dispute_period_seconds),
        funded_challenge_timeout_seconds = VALUES(funded_challenge_timeout_seconds),
        validation_fee = VALUES(validation_fee), paused = VALUES(paused)`
	_, err := s.q.ExecContext(ctx, stmt, configSingletonKey,
		cfg.Owner, cfg.DirectoryRef, cfg.Symbol, cfg.MinStake, cfg.ChallengeStake, seconds(cfg.UnstakeDelay),
		seconds(cfg.ChallengeWindow), seconds(cfg.FundingPeriod), cfg.SlashPercent, string(cfg.SlashRecipient),
		seconds(cfg.DisputePeriod), seconds(cfg.FundedChallengeTimeout), cfg.ValidationFee, mysql.Flag(cfg.Paused),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "save validation config")
	}
	return nil
}

func (s *sqlQueries) NextID(ctx context.Context, entity string) (uint64, error) {
	table, ok := sequenceTables[entity]
	if !ok {
		return 0, xerrors.Newf(xerrors.CodeInvalidArgument, "unknown entity %q", entity)
	}
	var next uint64
	query := fmt.Sprintf(`SELECT COALESCE(MAX(id), 0) + 1 FROM %s FOR UPDATE`, table)
	if err := s.q.QueryRowContext(ctx, query).Scan(&next); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "allocate "+entity+" id")
	}
	return next, nil
}

func (s *sqlQueries) GetValidator(ctx context.Context, account string) (Validator, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+validatorColumns+` FROM validators WHERE account = ?`, account)
	var (
		v                              Validator
		specs                          sql.NullString
		active                         int64
		requested, registered, updated int64
	)
	err := row.Scan(&v.Account, &v.Method, &specs, &v.Stake, &active, &v.AccuracyScore, &v.TotalValidations,
		&v.IncorrectValidations, &v.PendingChallenges, &v.UnstakeAmount, &requested, &registered, &updated)
	if err != nil {
		return Validator{}, mysql.NotFound(err, "validator", account)
	}
	if specs.String != "" {
		v.Specializations = strings.Split(specs.String, ",")
	}
	v.Active = mysql.Bool(active)
	v.UnstakeRequestedAt = mysql.FromUnix(requested)
	v.RegisteredAt = mysql.FromUnix(registered)
	v.UpdatedAt = mysql.FromUnix(updated)
	return v, nil
}

func (s *sqlQueries) SaveValidator(ctx context.Context, v Validator) error {
	const stmt = `INSERT INTO validators (` + validatorColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE method = VALUES(method), specializations = VALUES(specializations),
        stake = VALUES(stake), active = VALUES(active), accuracy_score = VALUES(accuracy_score),
        total_validations = VALUES(total_validations), incorrect_validations = VALUES(incorrect_validations),
        pending_challenges = VALUES(pending_challenges), unstake_amount = VALUES(unstake_amount),
        unstake_requested_at = VALUES(unstake_requested_at), updated_at = VALUES(updated_at)`
	_, err := s.q.ExecContext(ctx, stmt,
		v.Account, v.Method, strings.Join(v.Specializations, ","), v.Stake, mysql.Flag(v.Active), v.AccuracyScore,
		v.TotalValidations, v.IncorrectValidations, v.PendingChallenges, v.UnstakeAmount,
		mysql.Unix(v.UnstakeRequestedAt), mysql.Unix(v.RegisteredAt), mysql.Unix(v.UpdatedAt),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "save validator "+v.Account)
	}
	return nil
}

func scanValidation(row rowScanner) (Validation, error) {
	var (
		v                   Validation
		result              string
		evidence            sql.NullString
		challenged, created int64
	)
	err := row.Scan(&v.ID, &v.Validator, &v.Agent, &v.JobRef, &result, &v.Confidence, &evidence, &challenged, &created)
	if err != nil {
		return Validation{}, err
	}
	v.Result = Result(result)
	v.Evidence = evidence.String
	v.Challenged = mysql.Bool(challenged)
	v.CreatedAt = mysql.FromUnix(created)
	return v, nil
}

func (s *sqlQueries) GetValidation(ctx context.Context, id uint64) (Validation, error) {
	v, err := scanValidation(s.q.QueryRowContext(ctx, `SELECT `+validationColumns+` FROM validations WHERE id = ?`, id))
	if err != nil {
		return Validation{}, mysql.NotFound(err, "validation", id)
	}
	return v, nil
}

func (s *sqlQueries) ListValidationsByValidator(ctx context.Context, validator string) ([]Validation, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+validationColumns+` FROM validations WHERE validator = ? ORDER BY id`, validator)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list validations")
	}
	defer rows.Close()

	var out []Validation
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan validation")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate validations")
	}
	return out, nil
}

func (s *sqlQueries) SaveValidation(ctx context.Context, v Validation) error {
	const stmt = `INSERT INTO validations (` + validationColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE challenged = VALUES(challenged)`
	_, err := s.q.ExecContext(ctx, stmt,
		v.ID, v.Validator, v.Agent, v.JobRef, string(v.Result), v.Confidence, v.Evidence,
		mysql.Flag(v.Challenged), mysql.Unix(v.CreatedAt),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("save validation %d", v.ID))
	}
	return nil
}

func scanChallenge(row rowScanner) (Challenge, error) {
	var (
		c                                   Challenge
		status                              string
		reason, evidence, notes             sql.NullString
		deadline, funded, created, resolved int64
	)
	err := row.Scan(&c.ID, &c.ValidationID, &c.Validator, &c.Challenger, &reason, &evidence, &c.Stake, &status,
		&deadline, &funded, &c.Resolver, &notes, &c.SlashedAmount, &created, &resolved)
	if err != nil {
		return Challenge{}, err
	}
	c.Reason = reason.String
	c.Evidence = evidence.String
	c.Notes = notes.String
	c.Status = ChallengeStatus(status)
	c.FundingDeadline = mysql.FromUnix(deadline)
	c.FundedAt = mysql.FromUnix(funded)
	c.CreatedAt = mysql.FromUnix(created)
	c.ResolvedAt = mysql.FromUnix(resolved)
	return c, nil
}

func (s *sqlQueries) GetChallenge(ctx context.Context, id uint64) (Challenge, error) {
	c, err := scanChallenge(s.q.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = ?`, id))
	if err != nil {
		return Challenge{}, mysql.NotFound(err, "challenge", id)
	}
	return c, nil
}

func (s *sqlQueries) ListChallengesByValidation(ctx context.Context, validationID uint64) ([]Challenge, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE validation_id = ? ORDER BY id`, validationID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list challenges")
	}
	defer rows.Close()

	var out []Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan challenge")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate challenges")
	}
	return out, nil
}

func (s *sqlQueries) SaveChallenge(ctx context.Context, c Challenge) error {
	const stmt = `INSERT INTO challenges (` + challengeColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE stake = VALUES(stake), status = VALUES(status), funded_at = VALUES(funded_at),
        resolver = VALUES(resolver), notes = VALUES(notes), slashed_amount = VALUES(slashed_amount),
        resolved_at = VALUES(resolved_at)`
	_, err := s.q.ExecContext(ctx, stmt,
		c.ID, c.ValidationID, c.Validator, c.Challenger, c.Reason, c.Evidence, c.Stake, string(c.Status),
		mysql.Unix(c.FundingDeadline), mysql.Unix(c.FundedAt), c.Resolver, c.Notes, c.SlashedAmount,
		mysql.Unix(c.CreatedAt), mysql.Unix(c.ResolvedAt),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("save challenge %d", c.ID))
	}
	return nil
}

var (
	_ Store = (*MySQLStore)(nil)
	_ Tx    = (*sqlQueries)(nil)
)
