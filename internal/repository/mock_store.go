package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nadmax/forecastd/internal/repository/models"
	"github.com/nadmax/forecastd/internal/task"
	"gopkg.in/guregu/null.v3"
)

// MockStore is an in-memory Store for tests. Each repository records its
// calls and can be told to fail through the *Error fields.
type MockStore struct {
	mu sync.Mutex

	users    map[int64]*models.User
	datasets map[int64]*models.Dataset
	models   map[int64]*models.Model
	tasks    map[int64]*task.Task
	logs     []models.SystemLog
	nextID   int64

	CreateTaskCalls []*task.Task
	TransitionCalls []TransitionCall
	FinishCalls     []*task.Task
	DeleteTaskCalls []int64
	AppendLogCalls  []models.SystemLog
	TxCalls         int

	CreateUserError    error
	GetUserError       error
	DeleteUserError    error
	CreateDatasetError error
	GetDatasetError    error
	CreateModelError   error
	GetModelError      error
	CreateTaskError    error
	GetTaskError       error
	TransitionError    error
	FinishError        error
	DeleteTaskError    error
	ListTasksError     error
	StatsError         error
	AppendLogError     error
	PingError          error
}

type TransitionCall struct {
	TaskID int64
	From   task.TaskStatus
	To     task.TaskStatus
}

func NewMockStore() *MockStore {
	return &MockStore{
		users:    make(map[int64]*models.User),
		datasets: make(map[int64]*models.Dataset),
		models:   make(map[int64]*models.Model),
		tasks:    make(map[int64]*task.Task),
	}
}

func (m *MockStore) Users() UserRepository       { return &mockUsers{m} }
func (m *MockStore) Datasets() DatasetRepository { return &mockDatasets{m} }
func (m *MockStore) Models() ModelRepository     { return &mockModels{m} }
func (m *MockStore) Tasks() TaskRepository       { return &mockTasks{m} }
func (m *MockStore) Logs() LogRepository         { return &mockLogs{m} }

// WithTx snapshots every table and restores the snapshot when fn fails.
func (m *MockStore) WithTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	m.TxCalls++
	snap := m.snapshot()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.restore(snap)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingError
}

func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

type mockSnapshot struct {
	users    map[int64]*models.User
	datasets map[int64]*models.Dataset
	models   map[int64]*models.Model
	tasks    map[int64]*task.Task
	logs     []models.SystemLog
}

func (m *MockStore) snapshot() mockSnapshot {
	s := mockSnapshot{
		users:    make(map[int64]*models.User, len(m.users)),
		datasets: make(map[int64]*models.Dataset, len(m.datasets)),
		models:   make(map[int64]*models.Model, len(m.models)),
		tasks:    make(map[int64]*task.Task, len(m.tasks)),
		logs:     append([]models.SystemLog(nil), m.logs...),
	}
	for id, u := range m.users {
		c := *u
		s.users[id] = &c
	}
	for id, d := range m.datasets {
		c := *d
		s.datasets[id] = &c
	}
	for id, md := range m.models {
		c := *md
		s.models[id] = &c
	}
	for id, t := range m.tasks {
		s.tasks[id] = copyTask(t)
	}
	return s
}

func (m *MockStore) restore(s mockSnapshot) {
	m.users = s.users
	m.datasets = s.datasets
	m.models = s.models
	m.tasks = s.tasks
	m.logs = s.logs
}

func copyTask(t *task.Task) *task.Task {
	c := *t
	if t.Metrics != nil {
		metrics := *t.Metrics
		c.Metrics = &metrics
	}
	if t.Hyperparams != nil {
		c.Hyperparams = make(task.Params, len(t.Hyperparams))
		for k, v := range t.Hyperparams {
			c.Hyperparams[k] = v
		}
	}
	return &c
}

func page[T any](items []T, p Pagination) []T {
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.PerPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// Seed helpers insert rows directly, bypassing error injection.

func (m *MockStore) SeedUser(u models.User) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.id()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.users[u.ID] = &u
	c := u
	return &c
}

func (m *MockStore) SeedDataset(d models.Dataset) *models.Dataset {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == 0 {
		d.ID = m.id()
	}
	m.datasets[d.ID] = &d
	c := d
	return &c
}

func (m *MockStore) SeedModel(md models.Model) *models.Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	if md.ID == 0 {
		md.ID = m.id()
	}
	m.models[md.ID] = &md
	c := md
	return &c
}

func (m *MockStore) SeedTask(t task.Task) *task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == 0 {
		t.ID = m.id()
	}
	m.tasks[t.ID] = copyTask(&t)
	return copyTask(&t)
}

// TaskStatus returns the stored status of a task.
func (m *MockStore) TaskStatus(id int64) (task.TaskStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		return t.Status, true
	}
	return "", false
}

func (m *MockStore) StoredTask(id int64) (*task.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		return copyTask(t), true
	}
	return nil, false
}

func (m *MockStore) LogEntries() []models.SystemLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.SystemLog(nil), m.logs...)
}

func (m *MockStore) TaskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

type mockUsers struct{ m *MockStore }

func (r *mockUsers) Create(ctx context.Context, u *models.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if r.m.CreateUserError != nil {
		return r.m.CreateUserError
	}
	for _, existing := range r.m.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return fmt.Errorf("%w: users", ErrDuplicate)
		}
	}

	u.ID = r.m.id()
	c := *u
	r.m.users[u.ID] = &c
	return nil
}

func (r *mockUsers) GetByID(ctx context.Context, id int64) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if r.m.GetUserError != nil {
		return nil, r.m.GetUserError
	}
	u, ok := r.m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *mockUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if r.m.GetUserError != nil {
		return nil, r.m.GetUserError
	}
	for _, u := range r.m.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r *mockUsers) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := r.GetByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *mockUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	for _, u := range r.m.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *mockUsers) UpdatePassword(ctx context.Context, id int64, hash string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	u, ok := r.m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *mockUsers) TouchLastLogin(ctx context.Context, id int64, at null.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	u, ok := r.m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLogin = at
	return nil
}

func (r *mockUsers) List(ctx context.Context, p Pagination) ([]models.User, int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	p = p.Normalize()
	all := make([]models.User, 0, len(r.m.users))
	for _, u := range r.m.users {
		all = append(all, *u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, p), len(all), nil
}

func (r *mockUsers) Count(ctx context.Context) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return len(r.m.users), nil
}

func (r *mockUsers) Delete(ctx context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if r.m.DeleteUserError != nil {
		return r.m.DeleteUserError
	}
	if _, ok := r.m.users[id]; !ok {
		return ErrNotFound
	}
	delete(r.m.users, id)
	return nil
}

type mockDatasets struct{ m *MockStore }

func (r *mockDatasets) Create(ctx context.Context, d *models.Dataset) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if r.m.CreateDatasetError != nil {
		return r.m.CreateDatasetError
	}
	d.ID = r.m.id()
	c := *d
	r.m.datasets[d.ID] = &c
	return nil
}

func (r *mockDatasets) Get(ctx context.Context, id int64) (*models.Dataset, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if r.m.GetDatasetError != nil {
		return nil, r.m.GetDatasetError
	}
	d, ok := r.m.datasets[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *d
	return &c, nil
}

func (r *mockDatasets) List(ctx context.Context, f DatasetFilter) ([]models.Dataset, int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	f.Pagination = f.Pagination.Normalize()
	var all []models.Dataset
	for _, d := range r.m.datasets {
		if f.Category != "" && d.Category != f.Category {
			continue
		}
		if f.IsPreset != nil && d.IsPreset != *f.IsPreset {
			continue
		}
		all = append(all, *d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, f.Pagination), len(all), nil
}

func (r *mockDatasets) Count(ctx context.Context) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return len(r.m.datasets), nil
}

func (r *mockDatasets) Delete(ctx context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if _, ok := r.m.datasets[id]; !ok {
		return ErrNotFound
	}
	delete(r.m.datasets, id)
	return nil
}

type mockModels struct{ m *MockStore }

func (r *mockModels) Create(ctx context.Context, md *models.Model) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if r.m.CreateModelError != nil {
		return r.m.CreateModelError
	}
	md.ID = r.m.id()
	c := *md
	r.m.models[md.ID] = &c
	return nil
}

func (r *mockModels) Get(ctx context.Context, id int64) (*models.Model, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if r.m.GetModelError != nil {
		return nil, r.m.GetModelError
	}
	md, ok := r.m.models[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *md
	return &c, nil
}

func (r *mockModels) FirstByType(ctx context.Context, modelType string) (*models.Model, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	var found *models.Model
	for _, md := range r.m.models {
		if md.ModelType == modelType && (found == nil || md.ID < found.ID) {
			found = md
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	c := *found
	return &c, nil
}

func (r *mockModels) List(ctx context.Context, f ModelFilter) ([]models.Model, int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	f.Pagination = f.Pagination.Normalize()
	var all []models.Model
	for _, md := range r.m.models {
		if f.ModelType != "" && md.ModelType != f.ModelType {
			continue
		}
		all = append(all, *md)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return page(all, f.Pagination), len(all), nil
}

func (r *mockModels) Types(ctx context.Context) ([]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	seen := make(map[string]bool)
	types := []string{}
	for _, md := range r.m.models {
		if !seen[md.ModelType] {
			seen[md.ModelType] = true
			types = append(types, md.ModelType)
		}
	}
	sort.Strings(types)
	return types, nil
}

func (r *mockModels) Update(ctx context.Context, md *models.Model) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	stored, ok := r.m.models[md.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Name = md.Name
	stored.Description = md.Description
	stored.DefaultParams = md.DefaultParams
	return nil
}

func (r *mockModels) Count(ctx context.Context) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return len(r.m.models), nil
}

func (r *mockModels) Delete(ctx context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if _, ok := r.m.models[id]; !ok {
		return ErrNotFound
	}
	delete(r.m.models, id)
	return nil
}

type mockTasks struct{ m *MockStore }

func (r *mockTasks) withUsername(t *task.Task) *task.Task {
	c := copyTask(t)
	c.Username = null.String{}
	if t.UserID.Valid {
		if u, ok := r.m.users[t.UserID.Int64]; ok {
			c.Username = null.StringFrom(u.Username)
		}
	}
	return c
}

func (r *mockTasks) Create(ctx context.Context, t *task.Task) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	r.m.CreateTaskCalls = append(r.m.CreateTaskCalls, copyTask(t))
	if r.m.CreateTaskError != nil {
		return r.m.CreateTaskError
	}

	t.ID = r.m.id()
	r.m.tasks[t.ID] = copyTask(t)
	return nil
}

func (r *mockTasks) Get(ctx context.Context, id int64) (*task.Task, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if r.m.GetTaskError != nil {
		return nil, r.m.GetTaskError
	}
	t, ok := r.m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.withUsername(t), nil
}

func (r *mockTasks) Transition(ctx context.Context, t *task.Task, from task.TaskStatus) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	r.m.TransitionCalls = append(r.m.TransitionCalls, TransitionCall{TaskID: t.ID, From: from, To: t.Status})
	if r.m.TransitionError != nil {
		return r.m.TransitionError
	}

	stored, ok := r.m.tasks[t.ID]
	if !ok || stored.Version != t.Version || stored.Status != from {
		return ErrStale
	}
	stored.Status = t.Status
	stored.Version++
	t.Version++
	return nil
}

func (r *mockTasks) Finish(ctx context.Context, t *task.Task) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if !t.Status.Terminal() {
		return fmt.Errorf("%w: finish with status %s", task.ErrInvalidTransition, t.Status)
	}
	r.m.FinishCalls = append(r.m.FinishCalls, copyTask(t))
	if r.m.FinishError != nil {
		return r.m.FinishError
	}

	stored, ok := r.m.tasks[t.ID]
	if !ok || stored.Version != t.Version || stored.Status != task.RunningStatus {
		return ErrStale
	}
	next := copyTask(t)
	next.Version++
	r.m.tasks[t.ID] = next
	t.Version++
	return nil
}

func (r *mockTasks) Delete(ctx context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	r.m.DeleteTaskCalls = append(r.m.DeleteTaskCalls, id)
	if r.m.DeleteTaskError != nil {
		return r.m.DeleteTaskError
	}
	if _, ok := r.m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(r.m.tasks, id)
	return nil
}

func (r *mockTasks) List(ctx context.Context, q TaskQuery) ([]task.Task, int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if r.m.ListTasksError != nil {
		return nil, 0, r.m.ListTasksError
	}

	q = q.Normalize()
	var all []task.Task
	for _, t := range r.m.tasks {
		if !q.Scope.Includes(t) {
			continue
		}
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		all = append(all, *r.withUsername(t))
	}

	desc := q.SortOrder == Desc
	sort.SliceStable(all, func(i, j int) bool {
		ni, nj := sortKeyNull(&all[i], q.SortBy), sortKeyNull(&all[j], q.SortBy)
		if ni != nj {
			return nj
		}
		c := compareTasks(&all[i], &all[j], q.SortBy)
		if c == 0 {
			c = compareInt(all[i].ID, all[j].ID)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})

	return page(all, q.Pagination), len(all), nil
}

func sortKeyNull(t *task.Task, field string) bool {
	switch field {
	case "completed_at":
		return !t.CompletedAt.Valid
	case "duration":
		return !t.Duration.Valid
	case "user_id":
		return !t.UserID.Valid
	case "dataset_id":
		return !t.DatasetID.Valid
	case "model_id":
		return !t.ModelID.Valid
	}
	return false
}

func compareTasks(a, b *task.Task, field string) int {
	switch field {
	case "id":
		return compareInt(a.ID, b.ID)
	case "name":
		return strings.Compare(a.Name, b.Name)
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	case "completed_at":
		return a.CompletedAt.Time.Compare(b.CompletedAt.Time)
	case "duration":
		switch {
		case a.Duration.Float64 < b.Duration.Float64:
			return -1
		case a.Duration.Float64 > b.Duration.Float64:
			return 1
		}
		return 0
	case "user_id":
		return compareInt(a.UserID.Int64, b.UserID.Int64)
	case "dataset_id":
		return compareInt(a.DatasetID.Int64, b.DatasetID.Int64)
	case "model_id":
		return compareInt(a.ModelID.Int64, b.ModelID.Int64)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (r *mockTasks) Stats(ctx context.Context, scope Scope) (*models.TaskStats, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if r.m.StatsError != nil {
		return nil, r.m.StatsError
	}

	stats := models.NewTaskStats()
	usage := make(map[string]int)
	for _, t := range r.m.tasks {
		if !scope.Includes(t) {
			continue
		}
		stats.Total++
		stats.StatusCounts[t.Status]++
		if t.ModelName.Valid {
			usage[t.ModelName.String]++
		}
	}
	for name, n := range usage {
		stats.ModelUsage = append(stats.ModelUsage, models.ModelUsage{Model: name, Count: n})
	}
	sort.Slice(stats.ModelUsage, func(i, j int) bool {
		a, b := stats.ModelUsage[i], stats.ModelUsage[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Model < b.Model
	})
	return stats, nil
}

func (r *mockTasks) ClearDataset(ctx context.Context, datasetID int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, t := range r.m.tasks {
		if t.DatasetID.Valid && t.DatasetID.Int64 == datasetID {
			t.DatasetID = null.Int{}
		}
	}
	return nil
}

func (r *mockTasks) ClearModel(ctx context.Context, modelID int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, t := range r.m.tasks {
		if t.ModelID.Valid && t.ModelID.Int64 == modelID {
			t.ModelID = null.Int{}
		}
	}
	return nil
}

func (r *mockTasks) CountBySourcePath(ctx context.Context, path string) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	n := 0
	for _, t := range r.m.tasks {
		if t.SourcePath == path {
			n++
		}
	}
	return n, nil
}

type mockLogs struct{ m *MockStore }

func (r *mockLogs) Append(ctx context.Context, l *models.SystemLog) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	r.m.AppendLogCalls = append(r.m.AppendLogCalls, *l)
	if r.m.AppendLogError != nil {
		return r.m.AppendLogError
	}
	l.ID = r.m.id()
	r.m.logs = append(r.m.logs, *l)
	return nil
}

func (r *mockLogs) List(ctx context.Context, p Pagination) ([]models.SystemLog, int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	p = p.Normalize()
	all := append([]models.SystemLog(nil), r.m.logs...)
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	return page(all, p), len(all), nil
}
