package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/mmeshcher/testermarket/internal/model"
)

const mongoWriteConflict = 112

// MongoRepository хранит данные в MongoDB. Требует replica set: операции
// выполняются в многодокументных транзакциях.
type MongoRepository struct {
	client       *mongo.Client
	wallets      *mongo.Collection
	transactions *mongo.Collection
	testers      *mongo.Collection
	creators     *mongo.Collection
	tasks        *mongo.Collection
	specific     *mongo.Collection
	creatorTasks *mongo.Collection
	history      *mongo.Collection
	responses    *mongo.Collection
}

// NewMongoRepository подключается к MongoDB и создаёт индексы.
func NewMongoRepository(ctx context.Context, uri, dbName string) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(dbName)
	r := &MongoRepository{
		client:       client,
		wallets:      db.Collection("wallets"),
		transactions: db.Collection("transactions"),
		testers:      db.Collection("testers"),
		creators:     db.Collection("creators"),
		tasks:        db.Collection("tasks"),
		specific:     db.Collection("specific_tasks"),
		creatorTasks: db.Collection("creator_tasks"),
		history:      db.Collection("task_history"),
		responses:    db.Collection("responses"),
	}

	if err := r.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return r, nil
}

// EnsureIndexes создаёт уникальные индексы, на которых держатся инварианты хранилища.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.wallets.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "owner_id", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"owner_id": bson.M{"$exists": true}}),
		},
		{
			Keys: bson.D{{Key: "owner_kind", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"owner_kind": string(model.OwnerKindSystem)}),
		},
	})
	if err != nil {
		return fmt.Errorf("wallet indexes: %w", err)
	}

	_, err = r.transactions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "wallet_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{
			Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "related_task_id", Value: 1}, {Key: "direction", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{
				"owner_id":        bson.M{"$exists": true},
				"related_task_id": bson.M{"$exists": true},
			}),
		},
	})
	if err != nil {
		return fmt.Errorf("transaction indexes: %w", err)
	}

	_, err = r.specific.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "task_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("specific task indexes: %w", err)
	}

	_, err = r.tasks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "post_date", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("task indexes: %w", err)
	}

	_, err = r.responses.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "task_id", Value: 1}, {Key: "tester_id", Value: 1}, {Key: "submitted_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("response indexes: %w", err)
	}
	return nil
}

// Close отключается от MongoDB.
func (r *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

// RunInTx выполняет fn в snapshot-транзакции MongoDB. Повторы выполняет вызывающая сторона.
func (r *MongoRepository) RunInTx(ctx context.Context, fn func(Tx) error) error {
	sess, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(context.Background())

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	return mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(txOpts); err != nil {
			return fmt.Errorf("start transaction: %w", err)
		}

		if err := fn(&mongoTx{sc: sc, r: r}); err != nil {
			_ = sess.AbortTransaction(context.Background())
			return err
		}

		if err := sess.CommitTransaction(sc); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// IsTransient сообщает, что транзакцию можно повторить с начала.
func (r *MongoRepository) IsTransient(err error) bool {
	if IsTransientBase(err) {
		return true
	}

	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorLabel("TransientTransactionError") ||
			se.HasErrorLabel("UnknownTransactionCommitResult") ||
			se.HasErrorCode(mongoWriteConflict)
	}
	return mongo.IsNetworkError(err)
}

type mongoTx struct {
	sc mongo.SessionContext
	r  *MongoRepository
}

type walletDoc struct {
	ID        string    `bson:"_id"`
	OwnerID   *string   `bson:"owner_id,omitempty"`
	OwnerKind string    `bson:"owner_kind"`
	Balance   int64     `bson:"balance"`
	CreatedAt time.Time `bson:"created_at"`
}

func idString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func parseIDPtr(s *string) (*uuid.UUID, error) {
	if s == nil {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseIDs(ss []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(ss))
	for _, s := range ss {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func idStrings(ids []uuid.UUID) []string {
	ss := make([]string, 0, len(ids))
	for _, id := range ids {
		ss = append(ss, id.String())
	}
	return ss
}

func (d walletDoc) toModel() (*model.Wallet, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode wallet id: %w", err)
	}
	owner, err := parseIDPtr(d.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("decode wallet owner: %w", err)
	}
	return &model.Wallet{
		ID:        id,
		OwnerID:   owner,
		OwnerKind: model.OwnerKind(d.OwnerKind),
		Balance:   model.FromCents(d.Balance),
		CreatedAt: d.CreatedAt,
	}, nil
}

// findOne читает документ. С forUpdate документ помечается записью в поле
// lock, и конкурирующая транзакция с тем же forUpdate получит WriteConflict.
func (t *mongoTx) findOne(coll *mongo.Collection, filter bson.M, forUpdate bool) *mongo.SingleResult {
	if !forUpdate {
		return coll.FindOne(t.sc, filter)
	}
	return coll.FindOneAndUpdate(t.sc, filter,
		bson.M{"$inc": bson.M{"lock": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
}

func (t *mongoTx) findWallet(filter bson.M, forUpdate bool) (*model.Wallet, error) {
	var d walletDoc
	if err := t.findOne(t.r.wallets, filter, forUpdate).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrWalletNotFound
		}
		return nil, fmt.Errorf("find wallet: %w", err)
	}
	return d.toModel()
}

func (t *mongoTx) InsertWallet(_ context.Context, w *model.Wallet) error {
	_, err := t.r.wallets.InsertOne(t.sc, walletDoc{
		ID:        w.ID.String(),
		OwnerID:   idString(w.OwnerID),
		OwnerKind: string(w.OwnerKind),
		Balance:   model.ToCents(w.Balance),
		CreatedAt: w.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrWalletExists
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

func (t *mongoTx) GetWalletByOwner(_ context.Context, ownerID uuid.UUID, forUpdate bool) (*model.Wallet, error) {
	return t.findWallet(bson.M{"owner_id": ownerID.String()}, forUpdate)
}

func (t *mongoTx) GetWalletByID(_ context.Context, id uuid.UUID, forUpdate bool) (*model.Wallet, error) {
	return t.findWallet(bson.M{"_id": id.String()}, forUpdate)
}

func (t *mongoTx) GetSystemWallet(_ context.Context) (*model.Wallet, error) {
	return t.findWallet(bson.M{"owner_kind": string(model.OwnerKindSystem)}, false)
}

func (t *mongoTx) UpdateWalletBalance(_ context.Context, id uuid.UUID, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("wallet %s: negative balance %s", id, balance)
	}
	res, err := t.r.wallets.UpdateOne(t.sc,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"balance": model.ToCents(balance)}},
	)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	if res.MatchedCount == 0 {
		return model.ErrWalletNotFound
	}
	return nil
}

type transactionDoc struct {
	ID            string    `bson:"_id"`
	WalletID      string    `bson:"wallet_id"`
	OwnerID       *string   `bson:"owner_id,omitempty"`
	Direction     string    `bson:"direction"`
	Amount        int64     `bson:"amount"`
	RelatedTaskID *string   `bson:"related_task_id,omitempty"`
	Status        string    `bson:"status"`
	CreatedAt     time.Time `bson:"created_at"`
}

func (d transactionDoc) toModel() (*model.Transaction, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode transaction id: %w", err)
	}
	walletID, err := uuid.Parse(d.WalletID)
	if err != nil {
		return nil, fmt.Errorf("decode transaction wallet: %w", err)
	}
	owner, err := parseIDPtr(d.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("decode transaction owner: %w", err)
	}
	task, err := parseIDPtr(d.RelatedTaskID)
	if err != nil {
		return nil, fmt.Errorf("decode transaction task: %w", err)
	}
	return &model.Transaction{
		ID:            id,
		WalletID:      walletID,
		OwnerID:       owner,
		Direction:     model.Direction(d.Direction),
		Amount:        model.FromCents(d.Amount),
		RelatedTaskID: task,
		Status:        model.TransactionStatus(d.Status),
		CreatedAt:     d.CreatedAt,
	}, nil
}

func (t *mongoTx) InsertTransaction(_ context.Context, tr *model.Transaction) error {
	_, err := t.r.transactions.InsertOne(t.sc, transactionDoc{
		ID:            tr.ID.String(),
		WalletID:      tr.WalletID.String(),
		OwnerID:       idString(tr.OwnerID),
		Direction:     string(tr.Direction),
		Amount:        model.ToCents(tr.Amount),
		RelatedTaskID: idString(tr.RelatedTaskID),
		Status:        string(tr.Status),
		CreatedAt:     tr.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (t *mongoTx) FindTransaction(_ context.Context, ownerID, taskID uuid.UUID, dir model.Direction) (*model.Transaction, error) {
	var d transactionDoc
	err := t.r.transactions.FindOne(t.sc, bson.M{
		"owner_id":        ownerID.String(),
		"related_task_id": taskID.String(),
		"direction":       string(dir),
	}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	return d.toModel()
}

func (t *mongoTx) ListTransactions(_ context.Context, walletID uuid.UUID) ([]model.Transaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := t.r.transactions.Find(t.sc, bson.M{"wallet_id": walletID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("find transactions: %w", err)
	}
	defer cur.Close(t.sc)

	var docs []transactionDoc
	if err := cur.All(t.sc, &docs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}

	res := make([]model.Transaction, 0, len(docs))
	for _, d := range docs {
		tr, err := d.toModel()
		if err != nil {
			return nil, err
		}
		res = append(res, *tr)
	}
	return res, nil
}

type testerDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Age       int       `bson:"age"`
	Gender    string    `bson:"gender"`
	Country   string    `bson:"country"`
	CreatedAt time.Time `bson:"created_at"`
}

func (t *mongoTx) InsertTester(_ context.Context, ts *model.Tester) error {
	_, err := t.r.testers.InsertOne(t.sc, testerDoc{
		ID:        ts.ID.String(),
		Name:      ts.Name,
		Age:       ts.Age,
		Gender:    string(ts.Gender),
		Country:   ts.Country,
		CreatedAt: ts.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: tester %s", ErrAccountExists, ts.ID)
		}
		return fmt.Errorf("insert tester: %w", err)
	}
	return nil
}

func (t *mongoTx) GetTester(_ context.Context, id uuid.UUID) (*model.Tester, error) {
	var d testerDoc
	if err := t.r.testers.FindOne(t.sc, bson.M{"_id": id.String()}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrTesterNotFound
		}
		return nil, fmt.Errorf("find tester: %w", err)
	}
	return &model.Tester{
		ID:        id,
		Name:      d.Name,
		Age:       d.Age,
		Gender:    model.Gender(d.Gender),
		Country:   d.Country,
		CreatedAt: d.CreatedAt,
	}, nil
}

type creatorDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Company   string    `bson:"company"`
	CreatedAt time.Time `bson:"created_at"`
}

func (t *mongoTx) InsertCreator(_ context.Context, c *model.Creator) error {
	_, err := t.r.creators.InsertOne(t.sc, creatorDoc{
		ID:        c.ID.String(),
		Name:      c.Name,
		Company:   c.Company,
		CreatedAt: c.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: creator %s", ErrAccountExists, c.ID)
		}
		return fmt.Errorf("insert creator: %w", err)
	}
	return nil
}

func (t *mongoTx) GetCreator(_ context.Context, id uuid.UUID) (*model.Creator, error) {
	var d creatorDoc
	if err := t.r.creators.FindOne(t.sc, bson.M{"_id": id.String()}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrCreatorNotFound
		}
		return nil, fmt.Errorf("find creator: %w", err)
	}
	return &model.Creator{ID: id, Name: d.Name, Company: d.Company, CreatedAt: d.CreatedAt}, nil
}

type audienceDoc struct {
	MinAge  int    `bson:"min_age"`
	Gender  string `bson:"gender"`
	Country string `bson:"country"`
}

type taskDoc struct {
	ID             string      `bson:"_id"`
	Kind           string      `bson:"kind"`
	CreatorID      string      `bson:"creator_id"`
	PostDate       time.Time   `bson:"post_date"`
	EndDate        time.Time   `bson:"end_date"`
	TesterCount    int         `bson:"tester_count"`
	Audience       audienceDoc `bson:"audience"`
	Heading        string      `bson:"heading"`
	Instruction    string      `bson:"instruction"`
	Status         string      `bson:"status"`
	Responded      []string    `bson:"responded"`
	SpecificTaskID string      `bson:"specific_task_id"`
	CreatedAt      time.Time   `bson:"created_at"`
}

type rosterDoc struct {
	Applied  []string `bson:"applied"`
	Selected []string `bson:"selected"`
	Rejected []string `bson:"rejected"`
}

type marketingDoc struct {
	ProductName   string `bson:"product_name"`
	ProductURL    string `bson:"product_url"`
	ProductPrice  string `bson:"product_price"`
	RefundPercent string `bson:"refund_percent"`
}

type specificDoc struct {
	ID        string                `bson:"_id"`
	TaskID    string                `bson:"task_id"`
	Kind      string                `bson:"kind"`
	Roster    *rosterDoc            `bson:"roster,omitempty"`
	App       *model.AppDetails     `bson:"app,omitempty"`
	Marketing *marketingDoc         `bson:"marketing,omitempty"`
	Survey    *model.SurveyDetails  `bson:"survey,omitempty"`
	Youtube   *model.YoutubeDetails `bson:"youtube,omitempty"`
}

func newTaskDoc(task *model.Task) taskDoc {
	return taskDoc{
		ID:          task.ID.String(),
		Kind:        string(task.Kind),
		CreatorID:   task.CreatorID.String(),
		PostDate:    task.PostDate,
		EndDate:     task.EndDate,
		TesterCount: task.TesterCount,
		Audience: audienceDoc{
			MinAge:  task.Audience.MinAge,
			Gender:  string(task.Audience.Gender),
			Country: task.Audience.Country,
		},
		Heading:        task.Heading,
		Instruction:    task.Instruction,
		Status:         string(task.Status),
		Responded:      idStrings(task.Responded),
		SpecificTaskID: task.SpecificTaskID.String(),
		CreatedAt:      task.CreatedAt,
	}
}

func newSpecificDoc(task *model.Task) (specificDoc, error) {
	s := task.Specific
	if s == nil {
		return specificDoc{}, errors.New("specific task is missing")
	}

	d := specificDoc{
		ID:      task.SpecificTaskID.String(),
		TaskID:  task.ID.String(),
		Kind:    string(task.Kind),
		App:     s.App,
		Survey:  s.Survey,
		Youtube: s.Youtube,
	}
	if s.Roster != nil {
		d.Roster = &rosterDoc{
			Applied:  idStrings(s.Roster.Applied),
			Selected: idStrings(s.Roster.Selected),
			Rejected: idStrings(s.Roster.Rejected),
		}
	}
	if s.Marketing != nil {
		d.Marketing = &marketingDoc{
			ProductName:   s.Marketing.ProductName,
			ProductURL:    s.Marketing.ProductURL,
			ProductPrice:  s.Marketing.ProductPrice.String(),
			RefundPercent: s.Marketing.RefundPercent.String(),
		}
	}
	return d, nil
}

func (d taskDoc) toModel(s specificDoc) (*model.Task, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("decode task id: %w", err)
	}
	creatorID, err := uuid.Parse(d.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("decode task creator: %w", err)
	}
	specificID, err := uuid.Parse(d.SpecificTaskID)
	if err != nil {
		return nil, fmt.Errorf("decode specific task id: %w", err)
	}
	responded, err := parseIDs(d.Responded)
	if err != nil {
		return nil, fmt.Errorf("decode responded: %w", err)
	}

	task := &model.Task{
		ID:          id,
		Kind:        model.TaskKind(d.Kind),
		CreatorID:   creatorID,
		PostDate:    d.PostDate,
		EndDate:     d.EndDate,
		TesterCount: d.TesterCount,
		Audience: model.Audience{
			MinAge:  d.Audience.MinAge,
			Gender:  model.Gender(d.Audience.Gender),
			Country: d.Audience.Country,
		},
		Heading:        d.Heading,
		Instruction:    d.Instruction,
		Status:         model.TaskStatus(d.Status),
		Responded:      responded,
		SpecificTaskID: specificID,
		CreatedAt:      d.CreatedAt,
		Specific: &model.SpecificTask{
			ID:      specificID,
			TaskID:  id,
			Kind:    model.TaskKind(d.Kind),
			App:     s.App,
			Survey:  s.Survey,
			Youtube: s.Youtube,
		},
	}

	if s.Roster != nil {
		roster := model.NewRoster()
		if roster.Applied, err = parseIDs(s.Roster.Applied); err != nil {
			return nil, fmt.Errorf("decode roster: %w", err)
		}
		if roster.Selected, err = parseIDs(s.Roster.Selected); err != nil {
			return nil, fmt.Errorf("decode roster: %w", err)
		}
		if roster.Rejected, err = parseIDs(s.Roster.Rejected); err != nil {
			return nil, fmt.Errorf("decode roster: %w", err)
		}
		task.Specific.Roster = roster
	}

	if s.Marketing != nil {
		price, err := decimal.NewFromString(s.Marketing.ProductPrice)
		if err != nil {
			return nil, fmt.Errorf("decode product price: %w", err)
		}
		refund, err := decimal.NewFromString(s.Marketing.RefundPercent)
		if err != nil {
			return nil, fmt.Errorf("decode refund percent: %w", err)
		}
		task.Specific.Marketing = &model.MarketingDetails{
			ProductName:   s.Marketing.ProductName,
			ProductURL:    s.Marketing.ProductURL,
			ProductPrice:  price,
			RefundPercent: refund,
		}
	}
	return task, nil
}

func (t *mongoTx) InsertTask(_ context.Context, task *model.Task) error {
	sd, err := newSpecificDoc(task)
	if err != nil {
		return err
	}
	if _, err := t.r.tasks.InsertOne(t.sc, newTaskDoc(task)); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if _, err := t.r.specific.InsertOne(t.sc, sd); err != nil {
		return fmt.Errorf("insert specific task: %w", err)
	}
	return nil
}

func (t *mongoTx) GetTask(_ context.Context, id uuid.UUID, forUpdate bool) (*model.Task, error) {
	var td taskDoc
	if err := t.findOne(t.r.tasks, bson.M{"_id": id.String()}, forUpdate).Decode(&td); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrTaskNotFound
		}
		return nil, fmt.Errorf("find task: %w", err)
	}

	var sd specificDoc
	if err := t.r.specific.FindOne(t.sc, bson.M{"task_id": td.ID}).Decode(&sd); err != nil {
		return nil, fmt.Errorf("find specific task: %w", err)
	}
	return td.toModel(sd)
}

func (t *mongoTx) UpdateTask(_ context.Context, task *model.Task) error {
	res, err := t.r.tasks.UpdateOne(t.sc,
		bson.M{"_id": task.ID.String()},
		bson.M{"$set": bson.M{
			"status":    string(task.Status),
			"responded": idStrings(task.Responded),
		}},
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if res.MatchedCount == 0 {
		return model.ErrTaskNotFound
	}

	sd, err := newSpecificDoc(task)
	if err != nil {
		return err
	}
	if _, err := t.r.specific.ReplaceOne(t.sc, bson.M{"_id": sd.ID}, sd); err != nil {
		return fmt.Errorf("update specific task: %w", err)
	}
	return nil
}

func (t *mongoTx) ListTasksByStatus(_ context.Context, statuses ...model.TaskStatus) ([]model.Task, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}

	opts := options.Find().SetSort(bson.D{{Key: "post_date", Value: 1}})
	cur, err := t.r.tasks.Find(t.sc, bson.M{"status": bson.M{"$in": names}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}
	defer cur.Close(t.sc)

	var tds []taskDoc
	if err := cur.All(t.sc, &tds); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	if len(tds) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(tds))
	for _, td := range tds {
		ids = append(ids, td.ID)
	}

	scur, err := t.r.specific.Find(t.sc, bson.M{"task_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("find specific tasks: %w", err)
	}
	defer scur.Close(t.sc)

	var sds []specificDoc
	if err := scur.All(t.sc, &sds); err != nil {
		return nil, fmt.Errorf("decode specific tasks: %w", err)
	}
	byTask := make(map[string]specificDoc, len(sds))
	for _, sd := range sds {
		byTask[sd.TaskID] = sd
	}

	res := make([]model.Task, 0, len(tds))
	for _, td := range tds {
		task, err := td.toModel(byTask[td.ID])
		if err != nil {
			return nil, err
		}
		res = append(res, *task)
	}
	return res, nil
}

type creatorTaskDoc struct {
	ID        string    `bson:"_id"`
	CreatorID string    `bson:"creator_id"`
	TaskID    string    `bson:"task_id"`
	CreatedAt time.Time `bson:"created_at"`
}

func (t *mongoTx) AppendCreatorTask(_ context.Context, creatorID, taskID uuid.UUID) error {
	key := creatorID.String() + ":" + taskID.String()
	_, err := t.r.creatorTasks.UpdateOne(t.sc,
		bson.M{"_id": key},
		bson.M{"$setOnInsert": creatorTaskDoc{
			ID:        key,
			CreatorID: creatorID.String(),
			TaskID:    taskID.String(),
			CreatedAt: time.Now().UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("append creator task: %w", err)
	}
	return nil
}

func (t *mongoTx) ListCreatorTasks(_ context.Context, creatorID uuid.UUID) ([]uuid.UUID, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := t.r.creatorTasks.Find(t.sc, bson.M{"creator_id": creatorID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("find creator tasks: %w", err)
	}
	defer cur.Close(t.sc)

	var docs []creatorTaskDoc
	if err := cur.All(t.sc, &docs); err != nil {
		return nil, fmt.Errorf("decode creator tasks: %w", err)
	}

	res := make([]uuid.UUID, 0, len(docs))
	for _, d := range docs {
		id, err := uuid.Parse(d.TaskID)
		if err != nil {
			return nil, fmt.Errorf("decode creator task: %w", err)
		}
		res = append(res, id)
	}
	return res, nil
}

type historyDoc struct {
	ID        string    `bson:"_id"`
	TesterID  string    `bson:"tester_id"`
	TaskID    string    `bson:"task_id"`
	Status    string    `bson:"status"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d historyDoc) toModel() (*model.HistoryEntry, error) {
	testerID, err := uuid.Parse(d.TesterID)
	if err != nil {
		return nil, fmt.Errorf("decode history tester: %w", err)
	}
	taskID, err := uuid.Parse(d.TaskID)
	if err != nil {
		return nil, fmt.Errorf("decode history task: %w", err)
	}
	return &model.HistoryEntry{
		TesterID:  testerID,
		TaskID:    taskID,
		Status:    model.HistoryStatus(d.Status),
		UpdatedAt: d.UpdatedAt,
	}, nil
}

func historyID(testerID, taskID uuid.UUID) string {
	return testerID.String() + ":" + taskID.String()
}

func (t *mongoTx) UpsertHistory(_ context.Context, e model.HistoryEntry) error {
	id := historyID(e.TesterID, e.TaskID)
	_, err := t.r.history.ReplaceOne(t.sc,
		bson.M{"_id": id},
		historyDoc{
			ID:        id,
			TesterID:  e.TesterID.String(),
			TaskID:    e.TaskID.String(),
			Status:    string(e.Status),
			UpdatedAt: e.UpdatedAt,
		},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert history: %w", err)
	}
	return nil
}

func (t *mongoTx) GetHistory(_ context.Context, testerID, taskID uuid.UUID) (*model.HistoryEntry, error) {
	var d historyDoc
	if err := t.r.history.FindOne(t.sc, bson.M{"_id": historyID(testerID, taskID)}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find history: %w", err)
	}
	return d.toModel()
}

func (t *mongoTx) ListHistory(_ context.Context, testerID uuid.UUID) ([]model.HistoryEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cur, err := t.r.history.Find(t.sc, bson.M{"tester_id": testerID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("find history: %w", err)
	}
	defer cur.Close(t.sc)

	var docs []historyDoc
	if err := cur.All(t.sc, &docs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	res := make([]model.HistoryEntry, 0, len(docs))
	for _, d := range docs {
		e, err := d.toModel()
		if err != nil {
			return nil, err
		}
		res = append(res, *e)
	}
	return res, nil
}

type responseDoc struct {
	ID          string           `bson:"_id"`
	TaskID      string           `bson:"task_id"`
	TesterID    string           `bson:"tester_id"`
	Kind        string           `bson:"kind"`
	Payload     model.Submission `bson:"payload"`
	SubmittedAt time.Time        `bson:"submitted_at"`
}

func (t *mongoTx) InsertResponse(_ context.Context, r *model.Response) error {
	_, err := t.r.responses.InsertOne(t.sc, responseDoc{
		ID:          r.ID.String(),
		TaskID:      r.TaskID.String(),
		TesterID:    r.TesterID.String(),
		Kind:        string(r.Kind),
		Payload:     r.Payload,
		SubmittedAt: r.SubmittedAt,
	})
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

func (t *mongoTx) ListResponses(_ context.Context, taskID, testerID uuid.UUID) ([]model.Response, error) {
	opts := options.Find().SetSort(bson.D{{Key: "submitted_at", Value: 1}})
	cur, err := t.r.responses.Find(t.sc, bson.M{
		"task_id":   taskID.String(),
		"tester_id": testerID.String(),
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("find responses: %w", err)
	}
	defer cur.Close(t.sc)

	var docs []responseDoc
	if err := cur.All(t.sc, &docs); err != nil {
		return nil, fmt.Errorf("decode responses: %w", err)
	}

	res := make([]model.Response, 0, len(docs))
	for _, d := range docs {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			return nil, fmt.Errorf("decode response id: %w", err)
		}
		res = append(res, model.Response{
			ID:          id,
			TaskID:      taskID,
			TesterID:    testerID,
			Kind:        model.TaskKind(d.Kind),
			Payload:     d.Payload,
			SubmittedAt: d.SubmittedAt,
		})
	}
	return res, nil
}
