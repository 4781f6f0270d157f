// Package bot turns chat events into ledger operations: typed lines become
// transactions, photos open a receipt session, and commands report on the
// ledger.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/finance-bot/internal/ledger"
	"github.com/zombor/finance-bot/internal/metrics"
	"github.com/zombor/finance-bot/internal/parsing"
	"github.com/zombor/finance-bot/internal/scanning"
	"github.com/zombor/finance-bot/internal/session"
)

// IDGenerator generates unique IDs for transactions and photos
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// ReceiptReader reads a receipt photo, falling back to its caption
type ReceiptReader interface {
	Extract(ctx context.Context, imageData []byte, contentType, caption string) scanning.Result
}

// Photo is an uploaded receipt picture
type Photo struct {
	Data        []byte
	ContentType string
	Caption     string
}

// Config holds the service's deployment settings
type Config struct {
	// AuthorizedUsers limits who may use the bot; empty allows everyone
	AuthorizedUsers []int64
	// SheetURL is shown by /sheet when the ledger is a spreadsheet
	SheetURL string
}

// Service handles chat events for every user
type Service struct {
	store      ledger.Store
	reader     ReceiptReader
	extractor  *parsing.Extractor
	sessions   *session.Machine
	locks      *session.Locker
	storage    Storage
	authorized map[int64]bool
	sheetURL   string

	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(store ledger.Store, reader ReceiptReader, extractor *parsing.Extractor, sessions *session.Machine, storage Storage, cfg Config) *Service {
	return NewServiceWithDeps(store, reader, extractor, sessions, storage, cfg, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store ledger.Store, reader ReceiptReader, extractor *parsing.Extractor, sessions *session.Machine, storage Storage, cfg Config, idGen IDGenerator, timeSrc TimeSource) *Service {
	authorized := make(map[int64]bool, len(cfg.AuthorizedUsers))
	for _, id := range cfg.AuthorizedUsers {
		authorized[id] = true
	}
	return &Service{
		store:       store,
		reader:      reader,
		extractor:   extractor,
		sessions:    sessions,
		locks:       session.NewLocker(),
		storage:     storage,
		authorized:  authorized,
		sheetURL:    cfg.SheetURL,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Authorized reports whether the user may use the bot
func (s *Service) Authorized(userID int64) bool {
	return len(s.authorized) == 0 || s.authorized[userID]
}

// guard serializes the user's events and checks access. The returned
// function must be called when the event is done.
func (s *Service) guard(ctx context.Context, userID int64) (func(), *Reply) {
	if !s.Authorized(userID) {
		slog.Warn("Rejected unauthorized user", "user_id", userID)
		return func() {}, &Reply{Text: textUnauthorized}
	}
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		slog.Debug("Request ended while waiting for the user's turn", "user_id", userID, "error", err)
		return func() {}, &Reply{Text: textRequestCancelled}
	}
	return unlock, nil
}

// OnText handles a typed message: a command or one transaction per line
func (s *Service) OnText(ctx context.Context, userID int64, text string) Reply {
	unlock, denied := s.guard(ctx, userID)
	defer unlock()
	if denied != nil {
		return *denied
	}

	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "/") {
		return s.command(ctx, userID, text)
	}

	candidates := s.extractor.ExtractAll(text)
	if len(candidates) == 0 {
		return Reply{Text: textNoAmount}
	}

	now := s.timeSource.Now()
	txs := make([]ledger.Transaction, 0, len(candidates))
	for _, c := range candidates {
		txs = append(txs, c.Transaction(s.idGenerator.Generate(), userID, now))
	}

	saved, pending, err := s.commit(ctx, txs)
	return commitReply(saved, pending, err)
}

// OnPhoto reads a receipt photo and opens a session for it, replacing any
// receipt the user left unfinished
func (s *Service) OnPhoto(ctx context.Context, userID int64, photo Photo) Reply {
	unlock, denied := s.guard(ctx, userID)
	defer unlock()
	if denied != nil {
		return *denied
	}

	key := s.archive(photo)

	result := s.reader.Extract(ctx, photo.Data, photo.ContentType, photo.Caption)
	if result.Outcome == scanning.Failed {
		s.deletePhoto(key)
		// A new photo always ends the previous receipt, even one we could not read
		if previous, err := s.sessions.Cancel(userID); err == nil || errors.Is(err, session.ErrExpired) {
			slog.Info("Discarding unfinished receipt session", "user_id", userID, "state", previous.State)
			s.deletePhoto(previous.Photo)
		}
		slog.Info("Receipt could not be read", "user_id", userID, "error", result.Err)
		if result.Unavailable() {
			return Reply{Text: textUnavailable}
		}
		return Reply{Text: textManual}
	}

	if previous := s.sessions.Begin(userID, result.Receipt, key); previous != nil {
		slog.Info("Replacing unfinished receipt session", "user_id", userID, "state", previous.State)
		s.deletePhoto(previous.Photo)
	}

	slog.Info("Receipt session started",
		"user_id", userID,
		"outcome", result.Outcome,
		"items", len(result.Receipt.Items),
		"total", result.Receipt.GrandTotal(),
	)
	return Reply{Text: formatReceipt(result.Receipt, result.Outcome), Options: chooseModeOptions}
}

// OnCallback handles a pressed option
func (s *Service) OnCallback(ctx context.Context, userID int64, option string) Reply {
	unlock, denied := s.guard(ctx, userID)
	defer unlock()
	if denied != nil {
		return *denied
	}

	if mode, ok := modeOptions[option]; ok {
		return s.selectMode(userID, mode)
	}

	switch option {
	case OptionConfirm:
		return s.confirm(ctx, userID)
	case OptionCancel:
		sess, err := s.sessions.Cancel(userID)
		if err != nil {
			return s.sessionError(sess, err)
		}
		s.deletePhoto(sess.Photo)
		return Reply{Text: textCancelled}
	default:
		slog.Debug("Unknown callback option", "user_id", userID, "option", option)
		return Reply{Text: fmt.Sprintf("Pilihan %q tidak dikenal.", option)}
	}
}

func (s *Service) selectMode(userID int64, mode session.Mode) Reply {
	sess, err := s.sessions.SelectMode(userID, mode)
	switch {
	case errors.Is(err, session.ErrExpired):
		return s.sessionError(sess, err)
	case errors.Is(err, session.ErrInvalidTransition):
		if sess.State == session.AwaitingConfirmation {
			// Already chosen; show the same preview again
			return Reply{Text: formatCandidates(sess.Candidates), Options: confirmOptions}
		}
		return s.sessionError(sess, err)
	case err != nil:
		return Reply{Text: fmt.Sprintf("⚠️ Struk ini tidak bisa dicatat dengan cara itu (%v). Pilih cara lain.", err), Options: chooseModeOptions}
	}
	return Reply{Text: formatCandidates(sess.Candidates), Options: confirmOptions}
}

func (s *Service) confirm(ctx context.Context, userID int64) Reply {
	sess, err := s.sessions.Confirm(userID)
	if err != nil {
		if sess.State == session.AwaitingMode && !errors.Is(err, session.ErrExpired) {
			return Reply{Text: "Pilih dulu cara mencatat struk ini.", Options: chooseModeOptions}
		}
		return s.sessionError(sess, err)
	}

	now := s.timeSource.Now()
	txs := make([]ledger.Transaction, 0, len(sess.Candidates))
	for _, t := range sess.Candidates {
		t.ID = s.idGenerator.Generate()
		t.CreatedAt = now
		txs = append(txs, t)
	}

	saved, pending, err := s.commit(ctx, txs)
	if err == nil || errors.Is(err, errRejected) {
		return commitReply(saved, pending, err)
	}

	// Keep what was not stored so the user can confirm again
	s.sessions.Reopen(sess, txs[len(saved):])
	reply := commitReply(saved, pending, nil)
	reply.Text = strings.TrimSpace(reply.Text + "\n" + fmt.Sprintf(textStoreRetry, len(txs)-len(saved)))
	reply.Options = confirmOptions
	return reply
}

func (s *Service) sessionError(sess session.Session, err error) Reply {
	if errors.Is(err, session.ErrExpired) {
		s.deletePhoto(sess.Photo)
		return Reply{Text: textExpired}
	}
	slog.Debug("Ignoring receipt event", "user_id", sess.UserID, "error", err)
	return Reply{Text: textNoSession}
}

// errRejected marks a transaction that failed validation; storing it again
// would fail the same way
var errRejected = errors.New("transaction rejected")

// commit stores transactions in order and stops at the first failure. A
// pending sync still counts as saved.
func (s *Service) commit(ctx context.Context, txs []ledger.Transaction) (saved []ledger.Transaction, pending bool, err error) {
	for _, t := range txs {
		if err := t.Validate(); err != nil {
			return saved, pending, fmt.Errorf("%w: %v", errRejected, err)
		}

		err := s.store.Append(ctx, t)
		switch {
		case errors.Is(err, ledger.ErrSyncPending):
			pending = true
		case err != nil:
			slog.Error("Failed to store transaction", "id", t.ID, "user_id", t.UserID, "error", err)
			return saved, pending, fmt.Errorf("storing transaction: %w", err)
		}

		metrics.TransactionsCommitted.WithLabelValues(string(t.Source)).Inc()
		saved = append(saved, t)
	}
	return saved, pending, nil
}

func commitReply(saved []ledger.Transaction, pending bool, err error) Reply {
	var b strings.Builder
	for _, t := range saved {
		fmt.Fprintf(&b, "✅ Tercatat: %s\n", formatTransaction(t))
	}
	if pending {
		b.WriteString(textPending + "\n")
	}
	switch {
	case errors.Is(err, errRejected):
		b.WriteString(textRejected + "\n")
	case err != nil:
		b.WriteString(textStoreFailed + "\n")
	}
	return Reply{Text: strings.TrimSpace(b.String())}
}

func (s *Service) command(ctx context.Context, userID int64, text string) Reply {
	fields := strings.Fields(text)
	// Chat clients may address a command to the bot: /laporan@finance_bot
	name, _, _ := strings.Cut(strings.ToLower(fields[0]), "@")
	args := fields[1:]

	switch name {
	case "/start":
		return Reply{Text: "👋 Halo! Saya bot pencatat keuangan.\n\n" + helpText}
	case "/help", "/menu":
		return Reply{Text: helpText}
	case "/catat":
		return Reply{Text: catatText}
	case "/laporan":
		period := ledger.PeriodMonth
		if len(args) > 0 {
			period = ledger.ParsePeriod(args[0])
		}
		return s.report(ctx, userID, period)
	case "/hapus":
		return s.deleteLast(ctx, userID)
	case "/sheet":
		return s.sheet(ctx)
	case "/me":
		return Reply{Text: fmt.Sprintf("🆔 User ID Anda: %d", userID)}
	default:
		return Reply{Text: "Perintah tidak dikenal.\n\n" + helpText}
	}
}

func (s *Service) report(ctx context.Context, userID int64, period ledger.Period) Reply {
	from, to := period.Bounds(s.timeSource.Now())
	txs, err := s.store.QueryRange(ctx, userID, from, to)
	if err != nil {
		slog.Error("Failed to query transactions", "user_id", userID, "period", period, "error", err)
		return Reply{Text: "❗ Gagal mengambil laporan. Silakan coba lagi."}
	}
	return Reply{Text: formatReport(period, ledger.Summarize(txs))}
}

func (s *Service) deleteLast(ctx context.Context, userID int64) Reply {
	t, err := s.store.DeleteLast(ctx, userID)
	if errors.Is(err, ledger.ErrNotFound) {
		return Reply{Text: "Belum ada transaksi untuk dihapus."}
	}
	if err != nil {
		slog.Error("Failed to delete transaction", "user_id", userID, "error", err)
		return Reply{Text: "❗ Gagal menghapus transaksi. Silakan coba lagi."}
	}
	return Reply{Text: "🗑️ Dihapus: " + formatTransaction(*t)}
}

func (s *Service) sheet(ctx context.Context) Reply {
	if err := s.store.Ping(ctx); err != nil {
		slog.Warn("Store is unreachable", "error", err)
		return Reply{Text: "⚠️ Penyimpanan tidak bisa dihubungi. Transaksi baru disimpan lokal dan disinkronkan nanti."}
	}
	if s.sheetURL == "" {
		return Reply{Text: "✅ Penyimpanan lokal aktif."}
	}
	return Reply{Text: "✅ Spreadsheet terhubung: " + s.sheetURL}
}

// archive saves the photo and returns its key, or "" when it could not be kept
func (s *Service) archive(photo Photo) string {
	if s.storage == nil || len(photo.Data) == 0 {
		return ""
	}
	name := s.idGenerator.Generate() + photoExtension(photo.ContentType)
	key, err := s.storage.Save(name, photo.Data)
	if err != nil {
		slog.Warn("Failed to archive receipt photo", "error", err)
		return ""
	}
	return key
}

func (s *Service) deletePhoto(key string) {
	if key == "" || s.storage == nil {
		return
	}
	if err := s.storage.Delete(key); err != nil {
		slog.Warn("Failed to delete receipt photo", "key", key, "error", err)
	}
}

func photoExtension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg", "":
		return ".jpg"
	case "image/png":
		return ".png"
	case "application/pdf":
		return ".pdf"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// SweepSessions cancels idle receipt sessions and deletes their photos
func (s *Service) SweepSessions() int {
	expired := s.sessions.Sweep()
	for _, sess := range expired {
		s.deletePhoto(sess.Photo)
	}
	if len(expired) > 0 {
		slog.Info("Expired idle receipt sessions", "count", len(expired))
	}
	return len(expired)
}

// RunSweeper calls SweepSessions every interval until ctx is done
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepSessions()
		}
	}
}
