package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	xerrors "AgentEscrow-Chain/internal/errors"
	"AgentEscrow-Chain/internal/storage/mysql"
)

const (
	jobColumns = `id, client, agent, title, description, deliverables, amount, symbol, funded_amount,
        released_amount, state, deadline, arbitrator, delivery_evidence, created_at, updated_at`
	milestoneColumns = `id, job_id, title, description, amount, sort_order, state, evidence, submitted_at,
        approved_at, created_at`
	disputeColumns = `id, job_id, raised_by, reason, evidence, client_amount, agent_amount, arbitrator_fee,
        resolution, resolver, notes, created_at, resolved_at`
	arbitratorColumns = `account, stake, fee_bps, total_cases, successful_cases, active, registered_at`
	configColumns     = `owner, directory_ref, oracle_ref, symbol, platform_fee_bps, min_job_amount,
        default_deadline_seconds, dispute_window_seconds, acceptance_timeout_seconds, min_arbitrator_stake, paused`
)

var sequenceTables = map[string]string{
	EntityJob:       "jobs",
	EntityMilestone: "milestones",
	EntityDispute:   "disputes",
}

// MySQLStore persists escrow entities in the tables created by the embedded
// migrations.
type MySQLStore struct {
	sqlQueries
	db *sql.DB
}

// NewMySQLStore wraps an open database. Run mysql.Migrate beforehand.
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

func (s *sqlQueries) GetConfig(ctx context.Context) (Config, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+configColumns+` FROM escrow_config WHERE id = ?`, configSingletonKey)
	var (
		cfg                                 Config
		deadline, window, acceptance, pause int64
	)
	err := row.Scan(&cfg.Owner, &cfg.DirectoryRef, &cfg.OracleRef, &cfg.Symbol, &cfg.PlatformFee, &cfg.MinJobAmount,
		&deadline, &window, &acceptance, &cfg.MinArbitratorStake, &pause)
	if err != nil {
		return Config{}, mysql.NotFound(err, "escrow config", configSingletonKey)
	}
	cfg.DefaultDeadline = time.Duration(deadline) * time.Second
	cfg.DisputeWindow = time.Duration(window) * time.Second
	cfg.AcceptanceTimeout = time.Duration(acceptance) * time.Second
	cfg.Paused = mysql.Bool(pause)
	return cfg, nil
}

func (s *sqlQueries) SaveConfig(ctx context.Context, cfg Config) error {
	const stmt = `INSERT INTO escrow_config (id, ` + configColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE owner = VALUES(owner), directory_ref = VALUES(directory_ref),
        oracle_ref = VALUES(oracle_ref), symbol = VALUES(symbol), platform_fee_bps = VALUES(platform_fee_bps),
        min_job_amount = VALUES(min_job_amount), default_deadline_seconds = VALUES(default_deadline_seconds),
        dispute_window_seconds = VALUES(dispute_window_seconds),
        acceptance_timeout_seconds = VALUES(acceptance_timeout_seconds),
        min_arbitrator_stake = VALUES(min_arbitrator_stake), paused = VALUES(paused)`
	_, err := s.q.ExecContext(ctx, stmt, configSingletonKey,
		cfg.Owner, cfg.DirectoryRef, cfg.OracleRef, cfg.Symbol, cfg.PlatformFee, cfg.MinJobAmount,
		int64(cfg.DefaultDeadline/time.Second), int64(cfg.DisputeWindow/time.Second),
		int64(cfg.AcceptanceTimeout/time.Second), cfg.MinArbitratorStake, mysql.Flag(cfg.Paused),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "save escrow config")
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

func scanJob(row rowScanner) (Job, error) {
	var (
		job                        Job
		state                      uint8
		deadline, created, updated int64
		description, deliverables  sql.NullString
		evidence                   sql.NullString
	)
	err := row.Scan(&job.ID, &job.Client, &job.Agent, &job.Title, &description, &deliverables, &job.Amount,
		&job.Symbol, &job.FundedAmount, &job.ReleasedAmount, &state, &deadline, &job.Arbitrator, &evidence,
		&created, &updated)
	if err != nil {
		return Job{}, err
	}
	job.Description = description.String
	job.Deliverables = deliverables.String
	job.DeliveryEvidence = evidence.String
	job.State = JobState(state)
	job.Deadline = mysql.FromUnix(deadline)
	job.CreatedAt = mysql.FromUnix(created)
	job.UpdatedAt = mysql.FromUnix(updated)
	return job, nil
}

func (s *sqlQueries) GetJob(ctx context.Context, id uint64) (Job, error) {
	job, err := scanJob(s.q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return Job{}, mysql.NotFound(err, "job", id)
	}
	return job, nil
}

func (s *sqlQueries) ListJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1 = 1`
	var args []any
	if filter.Client != "" {
		query += ` AND client = ?`
		args = append(args, filter.Client)
	}
	if filter.Agent != "" {
		query += ` AND agent = ?`
		args = append(args, filter.Agent)
	}
	if filter.Arbitrator != "" {
		query += ` AND arbitrator = ?`
		args = append(args, filter.Arbitrator)
	}
	if len(filter.States) > 0 {
		query += ` AND state IN (?` + repeatPlaceholders(len(filter.States)-1) + `)`
		for _, st := range filter.States {
			args = append(args, uint8(st))
		}
	}
	query += ` ORDER BY id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list jobs")
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate jobs")
	}
	return jobs, nil
}

func repeatPlaceholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

func (s *sqlQueries) SaveJob(ctx context.Context, job Job) error {
	const stmt = `INSERT INTO jobs (` + jobColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE funded_amount = VALUES(funded_amount), released_amount = VALUES(released_amount),
        state = VALUES(state), deadline = VALUES(deadline), arbitrator = VALUES(arbitrator),
        delivery_evidence = VALUES(delivery_evidence), updated_at = VALUES(updated_at)`
	_, err := s.q.ExecContext(ctx, stmt,
		job.ID, job.Client, job.Agent, job.Title, job.Description, job.Deliverables, job.Amount, job.Symbol,
		job.FundedAmount, job.ReleasedAmount, uint8(job.State), mysql.Unix(job.Deadline), job.Arbitrator,
		job.DeliveryEvidence, mysql.Unix(job.CreatedAt), mysql.Unix(job.UpdatedAt),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("save job %d", job.ID))
	}
	return nil
}

func scanMilestone(row rowScanner) (Milestone, error) {
	var (
		m                            Milestone
		state                        string
		description, evidence        sql.NullString
		submitted, approved, created int64
	)
	err := row.Scan(&m.ID, &m.JobID, &m.Title, &description, &m.Amount, &m.Order, &state, &evidence,
		&submitted, &approved, &created)
	if err != nil {
		return Milestone{}, err
	}
	m.Description = description.String
	m.Evidence = evidence.String
	m.State = MilestoneState(state)
	m.SubmittedAt = mysql.FromUnix(submitted)
	m.ApprovedAt = mysql.FromUnix(approved)
	m.CreatedAt = mysql.FromUnix(created)
	return m, nil
}

func (s *sqlQueries) GetMilestone(ctx context.Context, id uint64) (Milestone, error) {
	m, err := scanMilestone(s.q.QueryRowContext(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE id = ?`, id))
	if err != nil {
		return Milestone{}, mysql.NotFound(err, "milestone", id)
	}
	return m, nil
}

func (s *sqlQueries) ListMilestones(ctx context.Context, jobID uint64) ([]Milestone, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE job_id = ? ORDER BY sort_order, id`, jobID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list milestones")
	}
	defer rows.Close()

	var out []Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan milestone")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate milestones")
	}
	return out, nil
}

func (s *sqlQueries) SaveMilestone(ctx context.Context, m Milestone) error {
	const stmt = `INSERT INTO milestones (` + milestoneColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE state = VALUES(state), evidence = VALUES(evidence),
        submitted_at = VALUES(submitted_at), approved_at = VALUES(approved_at)`
	_, err := s.q.ExecContext(ctx, stmt,
		m.ID, m.JobID, m.Title, m.Description, m.Amount, m.Order, string(m.State), m.Evidence,
		mysql.Unix(m.SubmittedAt), mysql.Unix(m.ApprovedAt), mysql.Unix(m.CreatedAt),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("save milestone %d", m.ID))
	}
	return nil
}

func scanDispute(row rowScanner) (Dispute, error) {
	var (
		d                       Dispute
		resolution              string
		reason, evidence, notes sql.NullString
		created, resolved       int64
	)
	err := row.Scan(&d.ID, &d.JobID, &d.RaisedBy, &reason, &evidence, &d.ClientAmount, &d.AgentAmount,
		&d.ArbitratorFee, &resolution, &d.Resolver, &notes, &created, &resolved)
	if err != nil {
		return Dispute{}, err
	}
	d.Reason = reason.String
	d.Evidence = evidence.String
	d.Notes = notes.String
	d.Resolution = Resolution(resolution)
	d.CreatedAt = mysql.FromUnix(created)
	d.ResolvedAt = mysql.FromUnix(resolved)
	return d, nil
}

func (s *sqlQueries) GetDispute(ctx context.Context, id uint64) (Dispute, error) {
	d, err := scanDispute(s.q.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = ?`, id))
	if err != nil {
		return Dispute{}, mysql.NotFound(err, "dispute", id)
	}
	return d, nil
}

func (s *sqlQueries) ListDisputes(ctx context.Context, jobID uint64) ([]Dispute, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list disputes")
	}
	defer rows.Close()

	var out []Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan dispute")
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate disputes")
	}
	return out, nil
}

func (s *sqlQueries) SaveDispute(ctx context.Context, d Dispute) error {
	const stmt = `INSERT INTO disputes (` + disputeColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE client_amount = VALUES(client_amount), agent_amount = VALUES(agent_amount),
        arbitrator_fee = VALUES(arbitrator_fee), resolution = VALUES(resolution), resolver = VALUES(resolver),
        notes = VALUES(notes), resolved_at = VALUES(resolved_at)`
	_, err := s.q.ExecContext(ctx, stmt,
		d.ID, d.JobID, d.RaisedBy, d.Reason, d.Evidence, d.ClientAmount, d.AgentAmount, d.ArbitratorFee,
		string(d.Resolution), d.Resolver, d.Notes, mysql.Unix(d.CreatedAt), mysql.Unix(d.ResolvedAt),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("save dispute %d", d.ID))
	}
	return nil
}

func (s *sqlQueries) GetArbitrator(ctx context.Context, account string) (Arbitrator, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+arbitratorColumns+` FROM arbitrators WHERE account = ?`, account)
	var (
		a                  Arbitrator
		active, registered int64
	)
	if err := row.Scan(&a.Account, &a.Stake, &a.FeePercent, &a.TotalCases, &a.SuccessfulCases, &active, &registered); err != nil {
		return Arbitrator{}, mysql.NotFound(err, "arbitrator", account)
	}
	a.Active = mysql.Bool(active)
	a.RegisteredAt = mysql.FromUnix(registered)
	return a, nil
}

func (s *sqlQueries) SaveArbitrator(ctx context.Context, a Arbitrator) error {
	const stmt = `INSERT INTO arbitrators (` + arbitratorColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE stake = VALUES(stake), fee_bps = VALUES(fee_bps), total_cases = VALUES(total_cases),
        successful_cases = VALUES(successful_cases), active = VALUES(active)`
	_, err := s.q.ExecContext(ctx, stmt,
		a.Account, a.Stake, a.FeePercent, a.TotalCases, a.SuccessfulCases, mysql.Flag(a.Active), mysql.Unix(a.RegisteredAt),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "save arbitrator "+a.Account)
	}
	return nil
}

var (
	_ Store = (*MySQLStore)(nil)
	_ Tx    = (*sqlQueries)(nil)
)
