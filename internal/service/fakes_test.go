package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"usdt-credit/internal/model"
	"usdt-credit/internal/mq"
	"usdt-credit/internal/repository"
	"usdt-credit/pkg/chain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupMockDB 创建模拟数据库
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		Conn:       db,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open gorm db: %v", err)
	}

	cleanup := func() {
		db.Close()
	}

	return gormDB, mock, cleanup
}

// ---- 仓储与外设的内存替身 ----

type fakeLedgerRepo struct {
	mu       sync.Mutex
	existing map[string]bool
	created  []*model.LedgerEntry
	pending  []*model.LedgerEntry

	createErr  error
	promoteOK  bool
	promoteErr error
	promoted   []string
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{existing: make(map[string]bool), promoteOK: true}
}

func (f *fakeLedgerRepo) Create(tx *gorm.DB, entry *model.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if f.existing[entry.TxHash] {
		return repository.ErrDuplicateEntry
	}
	f.existing[entry.TxHash] = true
	f.created = append(f.created, entry)
	return nil
}

func (f *fakeLedgerRepo) ExistsByTxHash(ctx context.Context, txHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[txHash], nil
}

func (f *fakeLedgerRepo) GetByTxHash(ctx context.Context, txHash string) (*model.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.created {
		if e.TxHash == txHash {
			return e, nil
		}
	}
	return nil, repository.ErrEntryNotFound
}

func (f *fakeLedgerRepo) PromoteToApproved(tx *gorm.DB, txHash string, confirmations int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.promoteErr != nil {
		return false, f.promoteErr
	}
	if !f.promoteOK {
		return false, nil
	}
	f.promoted = append(f.promoted, txHash)
	return true, nil
}

func (f *fakeLedgerRepo) ListPending(ctx context.Context, limit int) ([]*model.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeLedgerRepo) List(ctx context.Context, filter repository.LedgerFilter) ([]model.LedgerEntry, int64, error) {
	return nil, 0, nil
}

type fakeBalanceRepo struct {
	mu         sync.Mutex
	credits    map[int64]decimal.Decimal
	activities []string
}

func newFakeBalanceRepo() *fakeBalanceRepo {
	return &fakeBalanceRepo{credits: make(map[int64]decimal.Decimal)}
}

func (f *fakeBalanceRepo) Credit(tx *gorm.DB, userID int64, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credits[userID] = f.credits[userID].Add(amount)
	return nil
}

func (f *fakeBalanceRepo) Get(ctx context.Context, userID int64) (*model.UserBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &model.UserBalance{UserID: userID, Balance: f.credits[userID]}, nil
}

func (f *fakeBalanceRepo) AppendActivity(ctx context.Context, userID int64, kind, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, kind)
	return nil
}

type fakeNotifyRepo struct {
	mu        sync.Mutex
	created   []*model.Notification
	pending   []*model.Notification
	endpoints []*model.PushEndpoint

	delivered   []int64
	failed      map[int64]int
	abandoned   []int64
	deactivated []int64
}

func newFakeNotifyRepo() *fakeNotifyRepo {
	return &fakeNotifyRepo{failed: make(map[int64]int)}
}

func (f *fakeNotifyRepo) Create(ctx context.Context, n *model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, n)
	return nil
}

func (f *fakeNotifyRepo) ListPendingPush(ctx context.Context, maxAttempts, limit int) ([]*model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Notification
	for _, n := range f.pending {
		if n.PendingPush && n.DeliveryAttempts < maxAttempts {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeNotifyRepo) MarkDelivered(ctx context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, id)
	return nil
}

func (f *fakeNotifyRepo) MarkAttemptFailed(ctx context.Context, id int64, attempts int, at time.Time, reason string, abandoned bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = attempts
	if abandoned {
		f.abandoned = append(f.abandoned, id)
	}
	return nil
}

func (f *fakeNotifyRepo) ListActiveEndpoints(ctx context.Context, userID int64) ([]*model.PushEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.PushEndpoint
	for _, ep := range f.endpoints {
		if ep.UserID == userID && ep.Active {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (f *fakeNotifyRepo) DeactivateEndpoint(ctx context.Context, id int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ep := range f.endpoints {
		if ep.ID == id {
			ep.Active = false
			ep.LastError = reason
		}
	}
	f.deactivated = append(f.deactivated, id)
	return nil
}

type fakeAccountRepo struct {
	mu        sync.Mutex
	directory map[string]int64
	accounts  []*model.DepositAccount
	linked    map[string]int64
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{
		directory: make(map[string]int64),
		linked:    make(map[string]int64),
	}
}

func (f *fakeAccountRepo) ListDepositAddresses(ctx context.Context) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.directory))
	for k, v := range f.directory {
		out[k] = v
	}
	return out, nil
}

func (f *fakeAccountRepo) NextDerivationIndex(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.accounts)), nil
}

func (f *fakeAccountRepo) AssignDepositAddress(ctx context.Context, userID, index int64, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.UserID == userID {
			return repository.ErrDuplicateEntry
		}
	}
	f.accounts = append(f.accounts, &model.DepositAccount{
		UserID:          userID,
		DerivationIndex: index,
		Address:         address,
	})
	return nil
}

func (f *fakeAccountRepo) GetByUserID(ctx context.Context, userID int64) (*model.DepositAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.UserID == userID {
			return a, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (f *fakeAccountRepo) ListAll(ctx context.Context) ([]*model.DepositAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts, nil
}

func (f *fakeAccountRepo) IsWalletLinkedToUser(ctx context.Context, userID int64, address string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uid, ok := f.linked[address]
	return ok && uid == userID, nil
}

type fakeCursorRepo struct {
	mu      sync.Mutex
	cursors map[string]uint64
	saves   []uint64
}

func newFakeCursorRepo() *fakeCursorRepo {
	return &fakeCursorRepo{cursors: make(map[string]uint64)}
}

func (f *fakeCursorRepo) Get(ctx context.Context, scannerID string) (*model.ScannerCursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := f.cursors[scannerID]
	if !ok {
		return nil, repository.ErrCursorNotFound
	}
	return &model.ScannerCursor{ScannerID: scannerID, LastBlock: last}, nil
}

func (f *fakeCursorRepo) Save(ctx context.Context, scannerID string, lastBlock uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors[scannerID] = lastBlock
	f.saves = append(f.saves, lastBlock)
	return nil
}

type fakeUnresolvedRepo struct {
	mu        sync.Mutex
	deposits  []*model.UnresolvedDeposit
	matched   []int64
	dismissed []int64
}

func newFakeUnresolvedRepo() *fakeUnresolvedRepo {
	return &fakeUnresolvedRepo{}
}

func (f *fakeUnresolvedRepo) Create(ctx context.Context, deposit *model.UnresolvedDeposit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deposits {
		if d.TxHash == deposit.TxHash {
			return nil
		}
	}
	deposit.ID = int64(len(f.deposits) + 1)
	f.deposits = append(f.deposits, deposit)
	return nil
}

func (f *fakeUnresolvedRepo) GetByID(ctx context.Context, id int64) (*model.UnresolvedDeposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deposits {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, repository.ErrUnresolvedNotFound
}

func (f *fakeUnresolvedRepo) ListOpen(ctx context.Context, limit int) ([]*model.UnresolvedDeposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.UnresolvedDeposit
	for _, d := range f.deposits {
		if d.Status == model.UnresolvedStatusOpen {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeUnresolvedRepo) MarkMatched(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deposits {
		if d.ID == id {
			d.Status = model.UnresolvedStatusMatched
		}
	}
	f.matched = append(f.matched, id)
	return nil
}

func (f *fakeUnresolvedRepo) MarkDismissed(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deposits {
		if d.ID == id {
			d.Status = model.UnresolvedStatusDismissed
		}
	}
	f.dismissed = append(f.dismissed, id)
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []*mq.DepositCreditedMessage
}

func (f *fakePublisher) PublishCredited(msg *mq.DepositCreditedMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

type fakeChainReader struct {
	head      uint64
	headErr   error
	events    []chain.TransferEvent
	filterErr error

	mu      sync.Mutex
	windows [][2]uint64
}

func (f *fakeChainReader) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, f.headErr
}

func (f *fakeChainReader) FilterTransfers(ctx context.Context, fromBlock, toBlock uint64) ([]chain.TransferEvent, error) {
	f.mu.Lock()
	f.windows = append(f.windows, [2]uint64{fromBlock, toBlock})
	f.mu.Unlock()
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	var out []chain.TransferEvent
	for _, ev := range f.events {
		if ev.BlockNumber >= fromBlock && ev.BlockNumber <= toBlock {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeTxReader struct {
	summary *chain.TxSummary
	err     error
}

func (f *fakeTxReader) TxSummary(ctx context.Context, txHash string) (*chain.TxSummary, error) {
	return f.summary, f.err
}

type fakeTransport struct {
	mu    sync.Mutex
	sent  []string
	fails map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{fails: make(map[string]error)}
}

func (f *fakeTransport) Send(ctx context.Context, endpoint string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fails[endpoint]; ok {
		return err
	}
	f.sent = append(f.sent, endpoint)
	return nil
}
