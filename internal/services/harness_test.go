package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"signflow/backend/internal/dispatch"
	"signflow/backend/internal/documents"
	"signflow/backend/internal/logging"
	"signflow/backend/internal/notify"
	"signflow/backend/internal/queue"
	"signflow/backend/internal/repository"
	"signflow/backend/internal/tokens"
	"signflow/backend/pkg/models"
	"signflow/backend/pkg/result"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu      sync.Mutex
	sent    []notify.Message
	failFor map[string]bool
}

func (n *recordingNotifier) Send(ctx context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[msg.Email] {
		return errors.New("mailbox unavailable")
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) messages(kind notify.Kind) []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Message
	for _, m := range n.sent {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (n *recordingNotifier) invited() []string {
	var out []string
	for _, m := range n.messages(notify.KindInvitation) {
		out = append(out, m.Email)
	}
	return out
}

// tokenFor returns the token of the latest message sent to email for the workflow.
func (n *recordingNotifier) tokenFor(t *testing.T, workflowID, email string) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].WorkflowID == workflowID && n.sent[i].Email == email {
			u, err := url.Parse(n.sent[i].Link)
			require.NoError(t, err)
			return u.Query().Get("token")
		}
	}
	t.Fatalf("no message sent to %s", email)
	return ""
}

type schedule struct {
	intervalDays int
	repeatCount  int
}

type fakeReminders struct {
	mu        sync.Mutex
	scheduled map[string]schedule
	cancelled []string
}

func (f *fakeReminders) Schedule(workflowID string, intervalDays, repeatCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.scheduled[workflowID]; !ok {
		f.scheduled[workflowID] = schedule{intervalDays, repeatCount}
	}
	return nil
}

func (f *fakeReminders) Cancel(workflowID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scheduled, workflowID)
	f.cancelled = append(f.cancelled, workflowID)
}

func (f *fakeReminders) Exists(workflowID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.scheduled[workflowID]
	return ok
}

// inlineQueue runs tasks synchronously so tests observe their effects at once.
type inlineQueue struct {
	svc   *WorkflowService
	tasks []queue.Task
}

func (q *inlineQueue) Enqueue(task queue.Task) error {
	q.tasks = append(q.tasks, task)
	_ = q.svc.HandleTask(context.Background(), task)
	return nil
}

type harness struct {
	svc       *WorkflowService
	repo      *repository.MemoryRepository
	notifier  *recordingNotifier
	reminders *fakeReminders
	queue     *inlineQueue
	clock     *testClock
	fs        afero.Fs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo, err := repository.NewMemoryRepository()
	require.NoError(t, err)

	h := &harness{
		repo:      repo,
		notifier:  &recordingNotifier{failFor: map[string]bool{}},
		reminders: &fakeReminders{scheduled: map[string]schedule{}},
		queue:     &inlineQueue{},
		clock:     &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		fs:        afero.NewMemMapFs(),
	}
	logger := logging.Discard()
	tm := tokens.NewManager(h.clock.Now)
	engine := dispatch.NewEngine(repo, tm, h.notifier, h.reminders,
		dispatch.Config{LinkBaseURL: "https://sign.acme.com/sign"}, h.clock.Now, logger)

	h.svc = NewWorkflowService(Deps{
		Repo:      repo,
		Tokens:    tm,
		Documents: documents.NewCoordinator(h.clock.Now),
		Files:     documents.NewFileStore(h.fs, "/files", h.clock.Now),
		Engine:    engine,
		Reminders: h.reminders,
		Queue:     h.queue,
		Now:       h.clock.Now,
		Logger:    logger,
	})
	h.queue.svc = h.svc
	return h
}

const owner = "owner@acme.com"

func signerSlot(role, email string, priority int) TemplateRecipientInput {
	return TemplateRecipientInput{
		Role:         role,
		Priority:     priority,
		DeliveryType: models.DeliveryTypeNeedsToSign,
		DefaultUser:  &models.User{Email: email},
	}
}

func (h *harness) template(t *testing.T, mode models.SigningMode, slots ...TemplateRecipientInput) *models.Template {
	t.Helper()
	res := h.svc.CreateTemplate(context.Background(), owner, CreateTemplateRequest{
		Name:        "Contract",
		SigningMode: mode,
		Recipients:  slots,
	})
	require.Equal(t, result.StatusSuccess, res.Status, res.Message)
	return res.Data
}

func (h *harness) workflow(t *testing.T, tmpl *models.Template, validDays int) *models.Workflow {
	t.Helper()
	res := h.svc.CreateWorkflow(context.Background(), owner, CreateWorkflowRequest{
		TemplateID:           tmpl.ID,
		Name:                 "Contract for ACME",
		ValidUntil:           h.clock.Now().AddDate(0, 0, validDays),
		ReminderIntervalDays: 1,
		AutoReminder:         true,
	})
	require.Equal(t, result.StatusSuccess, res.Status, res.Message)
	return res.Data
}

func (h *harness) started(t *testing.T, tmpl *models.Template, validDays int) *models.Workflow {
	t.Helper()
	wf := h.workflow(t, tmpl, validDays)
	res := h.svc.StartWorkflow(context.Background(), wf.ID)
	require.Equal(t, result.StatusSuccess, res.Status, res.Message)
	return res.Data
}

func (h *harness) recipient(t *testing.T, workflowID, email string) *models.WorkflowRecipient {
	t.Helper()
	recipients, err := h.repo.ListRecipients(context.Background(), workflowID)
	require.NoError(t, err)
	for _, r := range recipients {
		if u := r.Identity(); u != nil && u.Email == email {
			return r
		}
	}
	t.Fatalf("no recipient %s", email)
	return nil
}

func (h *harness) envelope(t *testing.T, workflowID, email string) *models.WorkflowEnvelope {
	t.Helper()
	env, err := h.repo.GetEnvelopeByRecipient(context.Background(), h.recipient(t, workflowID, email).ID)
	require.NoError(t, err)
	return env
}

func (h *harness) sign(t *testing.T, workflowID, email string) result.Result[*SigningReceipt] {
	t.Helper()
	return h.signWith(t, workflowID, email, h.notifier.tokenFor(t, workflowID, email))
}

func (h *harness) signWith(t *testing.T, workflowID, email, token string) result.Result[*SigningReceipt] {
	t.Helper()
	return h.svc.CompleteDocumentSigning(context.Background(), SignRequest{
		RecipientID: h.recipient(t, workflowID, email).ID,
		Token:       token,
		FileName:    "signed.pdf",
		ContentType: "application/pdf",
		Content:     strings.NewReader("%PDF-1.7 signed by " + email),
	})
}
