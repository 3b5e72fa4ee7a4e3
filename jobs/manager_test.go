package jobs

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

type blockingTranslator struct {
	started chan string
	release chan struct{}
}

func newBlockingTranslator() *blockingTranslator {
	return &blockingTranslator{started: make(chan string, 16), release: make(chan struct{})}
}

func (b *blockingTranslator) Translate(ctx context.Context, _, text string) (string, error) {
	b.started <- text
	select {
	case <-b.release:
		return "ok", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func waitState(t *testing.T, m *Manager, id string, want State) Handle {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		h, err := m.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if h.State == want {
			return h
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s state = %s, want %s", id, h.State, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitStarted(t *testing.T, b *blockingTranslator) {
	t.Helper()
	select {
	case <-b.started:
	case <-time.After(5 * time.Second):
		t.Fatal("translation never started")
	}
}

const oneEntry = "msgid \"Hello\"\nmsgstr \"\"\n"

func TestManagerRunsJobToCompletion(t *testing.T) {
	r := newTestRunner(t, &fakeTranslator{})
	m := NewManager(r, ManagerOptions{Workers: 1, QueueSize: 4})
	defer m.Close(context.Background())

	job := submitUpload(t, r, oneEntry)
	h, err := m.Submit(job)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if h.State != StateQueued {
		t.Fatalf("initial state = %s", h.State)
	}

	done := waitState(t, m, job.ID, StateFinished)
	if done.Started.IsZero() || done.Finished.IsZero() {
		t.Fatalf("timestamps not set: %+v", done)
	}
	if p := r.Store.Read(job.ID); !p.Finished || p.Done != p.Total {
		t.Fatalf("progress = %+v", p)
	}
	if !r.Workspace.HasOutput(job.ID) {
		t.Fatal("output missing")
	}
	if list := m.List(); len(list) != 1 || list[0].ID != job.ID {
		t.Fatalf("List = %+v", list)
	}
}

func TestManagerQueueFull(t *testing.T) {
	tr := newBlockingTranslator()
	r := newTestRunner(t, tr)
	m := NewManager(r, ManagerOptions{Workers: 1, QueueSize: 1})
	defer m.Close(context.Background())

	first := submitUpload(t, r, oneEntry)
	if _, err := m.Submit(first); err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	waitStarted(t, tr)

	second := submitUpload(t, r, oneEntry)
	if _, err := m.Submit(second); err != nil {
		t.Fatalf("Submit second: %v", err)
	}
	third := submitUpload(t, r, oneEntry)
	if _, err := m.Submit(third); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit third err = %v, want ErrQueueFull", err)
	}
	if _, err := m.Get(third.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rejected job is tracked: %v", err)
	}

	close(tr.release)
	waitState(t, m, first.ID, StateFinished)
	waitState(t, m, second.ID, StateFinished)
}

func TestManagerCancelRunningAndQueued(t *testing.T) {
	tr := newBlockingTranslator()
	r := newTestRunner(t, tr)
	m := NewManager(r, ManagerOptions{Workers: 1, QueueSize: 4})
	defer m.Close(context.Background())

	running := submitUpload(t, r, oneEntry)
	queued := submitUpload(t, r, oneEntry)
	m.Submit(running)
	waitStarted(t, tr)
	m.Submit(queued)

	if err := m.Cancel(queued.ID); err != nil {
		t.Fatalf("Cancel queued: %v", err)
	}
	if h, _ := m.Get(queued.ID); h.State != StateCanceled {
		t.Fatalf("queued job state = %s", h.State)
	}

	if err := m.Cancel(running.ID); err != nil {
		t.Fatalf("Cancel running: %v", err)
	}
	waitState(t, m, running.ID, StateCanceled)

	for _, id := range []string{running.ID, queued.ID} {
		p := r.Store.Read(id)
		if p.State != StateCanceled || !p.Error || p.Finished {
			t.Fatalf("progress(%s) = %+v", id, p)
		}
		if _, err := os.Stat(r.Workspace.OutputPath(id)); !os.IsNotExist(err) {
			t.Fatalf("output written for canceled job %s", id)
		}
	}

	if err := m.Cancel(NewID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Cancel unknown err = %v", err)
	}
	// Canceling an ended job is a no-op.
	if err := m.Cancel(running.ID); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
}

func TestManagerCloseCancelsAndRejects(t *testing.T) {
	tr := newBlockingTranslator()
	r := newTestRunner(t, tr)
	m := NewManager(r, ManagerOptions{Workers: 1, QueueSize: 4})

	job := submitUpload(t, r, oneEntry)
	m.Submit(job)
	waitStarted(t, tr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h, _ := m.Get(job.ID); h.State != StateCanceled {
		t.Fatalf("state after Close = %s", h.State)
	}
	if _, err := m.Submit(submitUpload(t, r, oneEntry)); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit after Close err = %v, want ErrClosed", err)
	}
}

func TestManagerSweepForgetsEndedJobs(t *testing.T) {
	r := newTestRunner(t, &fakeTranslator{})
	m := NewManager(r, ManagerOptions{Workers: 1, QueueSize: 4})
	defer m.Close(context.Background())

	job := submitUpload(t, r, oneEntry)
	m.Submit(job)
	waitState(t, m, job.ID, StateFinished)

	old := time.Now().Add(-time.Hour)
	for _, p := range []string{r.Workspace.UploadPath(job.ID), r.Workspace.OutputPath(job.ID), r.Workspace.ProgressPath(job.ID)} {
		os.Chtimes(p, old, old)
	}
	time.Sleep(10 * time.Millisecond)
	m.Sweep(time.Millisecond)

	if _, err := m.Get(job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("handle kept after sweep: %v", err)
	}
	if r.Workspace.HasOutput(job.ID) {
		t.Fatal("output kept after sweep")
	}
	if p := r.Store.Read(job.ID); p != DefaultProgress() {
		t.Fatalf("progress after sweep = %+v", p)
	}
}

func TestSubmitRejectsInvalidID(t *testing.T) {
	r := newTestRunner(t, &fakeTranslator{})
	m := NewManager(r, ManagerOptions{})
	defer m.Close(context.Background())

	if _, err := m.Submit(Job{ID: "../evil", Code: "en-hu"}); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("err = %v, want ErrInvalidID", err)
	}
}
