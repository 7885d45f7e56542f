package library

import (
	"bytes"
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/thanyathonk/read-pdf-anything/internal/models"
	"github.com/thanyathonk/read-pdf-anything/internal/remote"
)

// midUploadProgress is the task progress reported while the remote call runs.
const midUploadProgress = 50

// File is one candidate upload.
type File struct {
	Name string
	Data []byte
}

// Batch tracks the outcome of one Upload call. Rejections are final as soon
// as Upload returns; accepted files settle as the queue drains.
type Batch struct {
	wg sync.WaitGroup

	mu        sync.Mutex
	succeeded int
	failed    int
	rejected  []models.RejectedFile
}

// Wait blocks until every accepted file in the batch has settled.
func (b *Batch) Wait() { b.wg.Wait() }

// Notification reports the batch counts. Call it after Wait for the final
// tally.
func (b *Batch) Notification() models.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return models.Notification{
		Succeeded: b.succeeded,
		Failed:    b.failed,
		Rejected:  append([]models.RejectedFile(nil), b.rejected...),
	}
}

func (b *Batch) reject(name, reason string) {
	b.mu.Lock()
	b.rejected = append(b.rejected, models.RejectedFile{Name: name, Reason: reason})
	b.mu.Unlock()
}

func (b *Batch) success() {
	b.mu.Lock()
	b.succeeded++
	b.mu.Unlock()
}

func (b *Batch) fail() {
	b.mu.Lock()
	b.failed++
	b.mu.Unlock()
}

type uploadJob struct {
	epoch  int64
	taskID string
	name   string
	data   []byte
	batch  *Batch
}

// Upload validates each file, queues the accepted ones and returns the batch
// handle. A rejected file never blocks the others; accepted files upload
// strictly in order, one at a time.
func (l *Library) Upload(files ...File) *Batch {
	batch := &Batch{}
	epoch := l.epoch()

	var jobs []*uploadJob
	l.mu.Lock()
	count := len(l.docs) + len(l.tasks)
	for _, f := range files {
		if reason := validate(f, count); reason != "" {
			batch.reject(f.Name, reason)
			continue
		}
		count++
		task := models.UploadTask{
			TempID:    l.newID(),
			Name:      f.Name,
			SizeBytes: int64(len(f.Data)),
			Status:    models.UploadQueued,
		}
		l.tasks = append(l.tasks, task)
		jobs = append(jobs, &uploadJob{
			epoch:  epoch,
			taskID: task.TempID,
			name:   f.Name,
			data:   f.Data,
			batch:  batch,
		})
	}
	l.mu.Unlock()

	batch.wg.Add(len(jobs))
	for _, job := range jobs {
		l.queue <- job
	}
	return batch
}

// validate returns a user-facing rejection reason, or "" for an acceptable
// file. count is the library occupancy including files accepted so far.
func validate(f File, count int) string {
	if !strings.HasSuffix(strings.ToLower(f.Name), ".pdf") {
		return "Only PDF files are allowed"
	}
	if int64(len(f.Data)) > MaxFileBytes {
		return "File size exceeds maximum limit of 10MB"
	}
	if count >= MaxDocuments {
		return "Document limit reached (20 files max)"
	}
	return ""
}

func (l *Library) runQueue() {
	for {
		select {
		case job := <-l.queue:
			l.processUpload(job)
		case <-l.quit:
			// Release anything still queued so batch waiters return.
			for {
				select {
				case job := <-l.queue:
					job.batch.wg.Done()
				default:
					return
				}
			}
		}
	}
}

func (l *Library) processUpload(job *uploadJob) {
	defer job.batch.wg.Done()

	// A job from a previous identity epoch is dropped: Reset already removed
	// its task entry.
	if l.epoch() != job.epoch {
		return
	}
	l.updateTask(job.taskID, func(t *models.UploadTask) {
		t.Status = models.UploadInFlight
		t.Progress = midUploadProgress
	})

	doc, err := l.api.UploadPDF(context.Background(), l.token(), job.name, bytes.NewReader(job.data))
	if err != nil {
		l.settleFailure(job, remote.Reason(err))
		return
	}
	l.settleSuccess(job, *doc)
}

func (l *Library) settleSuccess(job *uploadJob, doc models.Document) {
	doc.UploadedAt = l.clock.Now().UnixMilli()
	doc.Selected = true

	l.mu.Lock()
	if l.epoch() != job.epoch {
		l.mu.Unlock()
		return
	}
	for i := range l.tasks {
		if l.tasks[i].TempID == job.taskID {
			l.tasks[i].Status = models.UploadSucceeded
			l.tasks[i].Progress = 100
			break
		}
	}
	l.docs = append(l.docs, doc)
	gw := l.gw
	snapshot := append([]models.Document(nil), l.docs...)
	l.mu.Unlock()

	job.batch.success()
	if err := gw.SaveDocuments(context.Background(), snapshot); err != nil {
		log.Printf("library: document write-through failed: %v", err)
	}
	time.AfterFunc(l.successGrace, func() { l.removeTask(job.taskID) })
}

func (l *Library) settleFailure(job *uploadJob, reason string) {
	l.updateTask(job.taskID, func(t *models.UploadTask) {
		t.Status = models.UploadFailed
		t.Error = reason
	})
	job.batch.fail()
	time.AfterFunc(l.failureGrace, func() { l.removeTask(job.taskID) })
}

func (l *Library) updateTask(id string, fn func(*models.UploadTask)) {
	l.mu.Lock()
	for i := range l.tasks {
		if l.tasks[i].TempID == id {
			fn(&l.tasks[i])
			break
		}
	}
	l.mu.Unlock()
}

func (l *Library) removeTask(id string) {
	l.mu.Lock()
	tasks := make([]models.UploadTask, 0, len(l.tasks))
	for _, t := range l.tasks {
		if t.TempID != id {
			tasks = append(tasks, t)
		}
	}
	l.tasks = tasks
	l.mu.Unlock()
}
