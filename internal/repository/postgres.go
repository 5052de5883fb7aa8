package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/testermarket/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// RunInTx выполняет fn в одной сериализуемой транзакции. Ошибка fn откатывает транзакцию.
func (r *PostgresRepository) RunInTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// IsTransient сообщает, что транзакцию можно повторить с начала.
func (r *PostgresRepository) IsTransient(err error) bool {
	if IsTransientBase(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsTransactionRollback(pgErr.Code)
	}

	// Сетевые ошибки повторяются, только если запрос точно не ушёл на сервер:
	// обрыв во время COMMIT мог оставить транзакцию применённой.
	return pgconn.SafeToRetry(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

type pgTx struct {
	tx pgx.Tx
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func (t *pgTx) InsertWallet(ctx context.Context, w *model.Wallet) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO wallets (id, owner_id, owner_kind, balance, created_at) VALUES ($1, $2, $3, $4, $5)`,
		w.ID, w.OwnerID, string(w.OwnerKind), model.ToCents(w.Balance), w.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrWalletExists
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

const walletColumns = `id, owner_id, owner_kind, balance, created_at`

func scanWallet(row pgx.Row) (*model.Wallet, error) {
	var (
		w       model.Wallet
		kind    string
		balance int64
	)
	if err := row.Scan(&w.ID, &w.OwnerID, &kind, &balance, &w.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrWalletNotFound
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	w.OwnerKind = model.OwnerKind(kind)
	w.Balance = model.FromCents(balance)
	return &w, nil
}

func (t *pgTx) GetWalletByOwner(ctx context.Context, ownerID uuid.UUID, forUpdate bool) (*model.Wallet, error) {
	return scanWallet(t.tx.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1`+lockClause(forUpdate),
		ownerID,
	))
}

func (t *pgTx) GetWalletByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*model.Wallet, error) {
	return scanWallet(t.tx.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = $1`+lockClause(forUpdate),
		id,
	))
}

func (t *pgTx) GetSystemWallet(ctx context.Context) (*model.Wallet, error) {
	return scanWallet(t.tx.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE owner_kind = $1`,
		string(model.OwnerKindSystem),
	))
}

func (t *pgTx) UpdateWalletBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE wallets SET balance = $2 WHERE id = $1`, id, model.ToCents(balance))
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrWalletNotFound
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, wallet_id, owner_id, direction, amount, related_task_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tr.ID, tr.WalletID, tr.OwnerID, string(tr.Direction), model.ToCents(tr.Amount),
		tr.RelatedTaskID, string(tr.Status), tr.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

const transactionColumns = `id, wallet_id, owner_id, direction, amount, related_task_id, status, created_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var (
		tr        model.Transaction
		direction string
		status    string
		amount    int64
	)
	err := row.Scan(&tr.ID, &tr.WalletID, &tr.OwnerID, &direction, &amount, &tr.RelatedTaskID, &status, &tr.CreatedAt)
	if err != nil {
		return nil, err
	}
	tr.Direction = model.Direction(direction)
	tr.Status = model.TransactionStatus(status)
	tr.Amount = model.FromCents(amount)
	return &tr, nil
}

func (t *pgTx) FindTransaction(ctx context.Context, ownerID, taskID uuid.UUID, dir model.Direction) (*model.Transaction, error) {
	tr, err := scanTransaction(t.tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE owner_id = $1 AND related_task_id = $2 AND direction = $3`,
		ownerID, taskID, string(dir),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	return tr, nil
}

func (t *pgTx) ListTransactions(ctx context.Context, walletID uuid.UUID) ([]model.Transaction, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE wallet_id = $1 ORDER BY created_at, id`,
		walletID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		tr, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, *tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (t *pgTx) InsertTester(ctx context.Context, ts *model.Tester) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO testers (id, name, age, gender, country, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		ts.ID, ts.Name, ts.Age, string(ts.Gender), ts.Country, ts.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: tester %s", ErrAccountExists, ts.ID)
		}
		return fmt.Errorf("insert tester: %w", err)
	}
	return nil
}

func (t *pgTx) GetTester(ctx context.Context, id uuid.UUID) (*model.Tester, error) {
	var (
		ts     model.Tester
		gender string
	)
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, age, gender, country, created_at FROM testers WHERE id = $1`,
		id,
	).Scan(&ts.ID, &ts.Name, &ts.Age, &gender, &ts.Country, &ts.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrTesterNotFound
		}
		return nil, fmt.Errorf("get tester: %w", err)
	}
	ts.Gender = model.Gender(gender)
	return &ts, nil
}

func (t *pgTx) InsertCreator(ctx context.Context, c *model.Creator) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO creators (id, name, company, created_at) VALUES ($1, $2, $3, $4)`,
		c.ID, c.Name, c.Company, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: creator %s", ErrAccountExists, c.ID)
		}
		return fmt.Errorf("insert creator: %w", err)
	}
	return nil
}

func (t *pgTx) GetCreator(ctx context.Context, id uuid.UUID) (*model.Creator, error) {
	var c model.Creator
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, company, created_at FROM creators WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &c.Company, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrCreatorNotFound
		}
		return nil, fmt.Errorf("get creator: %w", err)
	}
	return &c, nil
}

func (t *pgTx) InsertTask(ctx context.Context, task *model.Task) error {
	audience, err := json.Marshal(task.Audience)
	if err != nil {
		return fmt.Errorf("marshal audience: %w", err)
	}
	responded, err := json.Marshal(respondedOrEmpty(task.Responded))
	if err != nil {
		return fmt.Errorf("marshal responded: %w", err)
	}

	_, err = t.tx.Exec(ctx,
		`INSERT INTO tasks (id, kind, creator_id, post_date, end_date, tester_count, audience,
		                    heading, instruction, status, responded, specific_task_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		task.ID, string(task.Kind), task.CreatorID, task.PostDate, task.EndDate, task.TesterCount, audience,
		task.Heading, task.Instruction, string(task.Status), responded, task.SpecificTaskID, task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	details, roster, err := encodeSpecific(task.Specific)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx,
		`INSERT INTO specific_tasks (id, task_id, kind, details, roster) VALUES ($1, $2, $3, $4, $5)`,
		task.Specific.ID, task.ID, string(task.Kind), details, roster,
	)
	if err != nil {
		return fmt.Errorf("insert specific task: %w", err)
	}
	return nil
}

const taskSelect = `SELECT t.id, t.kind, t.creator_id, t.post_date, t.end_date, t.tester_count, t.audience,
       t.heading, t.instruction, t.status, t.responded, t.specific_task_id, t.created_at,
       s.details, s.roster
  FROM tasks t
  JOIN specific_tasks s ON s.task_id = t.id`

func scanTask(row pgx.Row) (*model.Task, error) {
	var (
		task      model.Task
		kind      string
		status    string
		audience  []byte
		responded []byte
		details   []byte
		roster    []byte
	)
	err := row.Scan(&task.ID, &kind, &task.CreatorID, &task.PostDate, &task.EndDate, &task.TesterCount, &audience,
		&task.Heading, &task.Instruction, &status, &responded, &task.SpecificTaskID, &task.CreatedAt,
		&details, &roster)
	if err != nil {
		return nil, err
	}
	task.Kind = model.TaskKind(kind)
	task.Status = model.TaskStatus(status)

	if err := json.Unmarshal(audience, &task.Audience); err != nil {
		return nil, fmt.Errorf("decode audience: %w", err)
	}
	if err := json.Unmarshal(responded, &task.Responded); err != nil {
		return nil, fmt.Errorf("decode responded: %w", err)
	}

	specific, err := decodeSpecific(details, roster)
	if err != nil {
		return nil, err
	}
	specific.ID = task.SpecificTaskID
	specific.TaskID = task.ID
	specific.Kind = task.Kind
	task.Specific = specific

	return &task, nil
}

func (t *pgTx) GetTask(ctx context.Context, id uuid.UUID, forUpdate bool) (*model.Task, error) {
	lock := ""
	if forUpdate {
		lock = " FOR UPDATE OF t, s"
	}
	task, err := scanTask(t.tx.QueryRow(ctx, taskSelect+` WHERE t.id = $1`+lock, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (t *pgTx) UpdateTask(ctx context.Context, task *model.Task) error {
	responded, err := json.Marshal(respondedOrEmpty(task.Responded))
	if err != nil {
		return fmt.Errorf("marshal responded: %w", err)
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE tasks SET status = $2, responded = $3 WHERE id = $1`,
		task.ID, string(task.Status), responded,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTaskNotFound
	}

	details, roster, err := encodeSpecific(task.Specific)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx,
		`UPDATE specific_tasks SET details = $2, roster = $3 WHERE task_id = $1`,
		task.ID, details, roster,
	)
	if err != nil {
		return fmt.Errorf("update specific task: %w", err)
	}
	return nil
}

func (t *pgTx) ListTasksByStatus(ctx context.Context, statuses ...model.TaskStatus) ([]model.Task, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}

	rows, err := t.tx.Query(ctx, taskSelect+` WHERE t.status = ANY($1) ORDER BY t.post_date`, names)
	if err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	defer rows.Close()

	var res []model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		res = append(res, *task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (t *pgTx) AppendCreatorTask(ctx context.Context, creatorID, taskID uuid.UUID) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO creator_tasks (creator_id, task_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		creatorID, taskID,
	)
	if err != nil {
		return fmt.Errorf("append creator task: %w", err)
	}
	return nil
}

func (t *pgTx) ListCreatorTasks(ctx context.Context, creatorID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT task_id FROM creator_tasks WHERE creator_id = $1 ORDER BY created_at`,
		creatorID,
	)
	if err != nil {
		return nil, fmt.Errorf("select creator tasks: %w", err)
	}
	defer rows.Close()

	var res []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan creator task: %w", err)
		}
		res = append(res, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (t *pgTx) UpsertHistory(ctx context.Context, e model.HistoryEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO task_history (tester_id, task_id, status, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tester_id, task_id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		e.TesterID, e.TaskID, string(e.Status), e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	return nil
}

func (t *pgTx) GetHistory(ctx context.Context, testerID, taskID uuid.UUID) (*model.HistoryEntry, error) {
	var (
		e      model.HistoryEntry
		status string
	)
	err := t.tx.QueryRow(ctx,
		`SELECT tester_id, task_id, status, updated_at FROM task_history WHERE tester_id = $1 AND task_id = $2`,
		testerID, taskID,
	).Scan(&e.TesterID, &e.TaskID, &status, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get history: %w", err)
	}
	e.Status = model.HistoryStatus(status)
	return &e, nil
}

func (t *pgTx) ListHistory(ctx context.Context, testerID uuid.UUID) ([]model.HistoryEntry, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT tester_id, task_id, status, updated_at FROM task_history WHERE tester_id = $1 ORDER BY updated_at DESC`,
		testerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	var res []model.HistoryEntry
	for rows.Next() {
		var (
			e      model.HistoryEntry
			status string
		)
		if err := rows.Scan(&e.TesterID, &e.TaskID, &status, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Status = model.HistoryStatus(status)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (t *pgTx) InsertResponse(ctx context.Context, r *model.Response) error {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	_, err = t.tx.Exec(ctx,
		`INSERT INTO responses (id, task_id, tester_id, kind, payload, submitted_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.TaskID, r.TesterID, string(r.Kind), payload, r.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

func (t *pgTx) ListResponses(ctx context.Context, taskID, testerID uuid.UUID) ([]model.Response, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, task_id, tester_id, kind, payload, submitted_at FROM responses
		 WHERE task_id = $1 AND tester_id = $2 ORDER BY submitted_at`,
		taskID, testerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select responses: %w", err)
	}
	defer rows.Close()

	var res []model.Response
	for rows.Next() {
		var (
			r       model.Response
			kind    string
			payload []byte
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &r.TesterID, &kind, &payload, &r.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		if err := json.Unmarshal(payload, &r.Payload); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		r.Kind = model.TaskKind(kind)
		res = append(res, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
