package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nadmax/forecastd/internal/apperr"
	"github.com/nadmax/forecastd/internal/auth"
	"github.com/nadmax/forecastd/internal/datafile"
	"github.com/nadmax/forecastd/internal/policy"
	"github.com/nadmax/forecastd/internal/repository"
	"github.com/nadmax/forecastd/internal/repository/models"
	"github.com/nadmax/forecastd/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
)

var (
	admin = policy.FromClaims(&auth.Claims{UserID: 1, Username: "root", IsAdmin: true})
	alice = policy.FromClaims(&auth.Claims{UserID: 2, Username: "alice"})
	bob   = policy.FromClaims(&auth.Claims{UserID: 3, Username: "bob"})
)

func newService(t *testing.T) (*Service, *repository.MockStore, string) {
	t.Helper()
	dir := t.TempDir()
	store := repository.NewMockStore()
	return NewService(store, datafile.NewStore(dir)), store, dir
}

func files(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := []string{}
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func upload(name, body string) UploadInput {
	return UploadInput{Filename: name, Body: strings.NewReader(body)}
}

func TestUploadDataset(t *testing.T) {
	svc, store, dir := newService(t)

	ds, err := svc.UploadDataset(context.Background(), alice, upload("sales.csv", "date,amount,region\n2024-01-01,10,n\n2024-01-02,12,s\n"))

	require.NoError(t, err)
	assert.Equal(t, "sales.csv", ds.Name)
	assert.Equal(t, DefaultCategory, ds.Category)
	assert.Equal(t, 2, ds.Rows)
	assert.Equal(t, 3, ds.Columns)
	assert.Equal(t, "date", ds.TimeColumn.String)
	assert.Equal(t, "amount", ds.ValueColumn.String)
	assert.False(t, ds.IsPreset)
	assert.Equal(t, int64(2), ds.OwnerID.Int64)
	assert.Len(t, files(t, dir), 1)

	logs := store.LogEntries()
	require.Len(t, logs, 1)
	assert.Equal(t, "dataset.create_dataset", logs[0].Source)
}

func TestUploadDataset_SingleColumnHasNoValueColumn(t *testing.T) {
	svc, _, _ := newService(t)

	ds, err := svc.UploadDataset(context.Background(), alice, upload("t.csv", "date\n2024-01-01\n"))

	require.NoError(t, err)
	assert.False(t, ds.ValueColumn.Valid)
}

func TestUploadDataset_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		subject policy.Subject
		in      UploadInput
		kind    apperr.Kind
	}{
		{name: "anonymous", subject: policy.Anonymous(), in: upload("a.csv", "x\n1\n"), kind: apperr.KindUnauthenticated},
		{name: "no file", subject: alice, in: UploadInput{}, kind: apperr.KindValidation},
		{name: "not csv", subject: alice, in: upload("a.json", "{}"), kind: apperr.KindValidation},
		{name: "empty csv", subject: alice, in: upload("a.csv", ""), kind: apperr.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, dir := newService(t)

			_, err := svc.UploadDataset(context.Background(), tt.subject, tt.in)

			assert.True(t, apperr.Is(err, tt.kind), "got %v", err)
			assert.Empty(t, files(t, dir), "rejected uploads leave no file behind")
			total, _ := store.Datasets().Count(context.Background())
			assert.Zero(t, total)
		})
	}
}

func TestGetDataset_Preview(t *testing.T) {
	svc, store, dir := newService(t)
	var b strings.Builder
	b.WriteString("date,value\n")
	for i := 0; i < 15; i++ {
		b.WriteString("2024-01-01,1.5\n")
	}
	path := filepath.Join(dir, "preset.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	ds := store.SeedDataset(models.Dataset{Name: "preset", FilePath: path, IsPreset: true})

	detail, err := svc.GetDataset(context.Background(), ds.ID)

	require.NoError(t, err)
	assert.Len(t, detail.Preview, 10)
	assert.Equal(t, 1.5, detail.Preview[0]["value"])

	_, err = svc.GetDataset(context.Background(), 404)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestGetDataset_MissingFileEmptyPreview(t *testing.T) {
	svc, store, _ := newService(t)
	ds := store.SeedDataset(models.Dataset{Name: "gone", FilePath: "/nonexistent/x.csv"})

	detail, err := svc.GetDataset(context.Background(), ds.ID)

	require.NoError(t, err)
	assert.Empty(t, detail.Preview)
}

func TestListDatasets_Filters(t *testing.T) {
	svc, store, _ := newService(t)
	store.SeedDataset(models.Dataset{Name: "a", Category: "energy", IsPreset: true})
	store.SeedDataset(models.Dataset{Name: "b", Category: "energy"})
	store.SeedDataset(models.Dataset{Name: "c", Category: "retail"})
	preset := true

	page, err := svc.ListDatasets(context.Background(), repository.DatasetFilter{Category: "energy"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 1, page.Pages)

	page, err = svc.ListDatasets(context.Background(), repository.DatasetFilter{IsPreset: &preset})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "a", page.Items[0].Name)
}

func TestDeleteDataset_Authorization(t *testing.T) {
	tests := []struct {
		name    string
		dataset models.Dataset
		subject policy.Subject
		kind    apperr.Kind
		reason  string
	}{
		{name: "preset by user", dataset: models.Dataset{IsPreset: true}, subject: alice, kind: apperr.KindForbidden, reason: apperr.ReasonPreset},
		{name: "upload by other user", dataset: models.Dataset{OwnerID: null.IntFrom(2)}, subject: bob, kind: apperr.KindForbidden, reason: apperr.ReasonNotOwner},
		{name: "anonymous", dataset: models.Dataset{OwnerID: null.IntFrom(2)}, subject: policy.Anonymous(), kind: apperr.KindUnauthenticated, reason: apperr.ReasonMissingToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newService(t)
			ds := store.SeedDataset(tt.dataset)

			err := svc.DeleteDataset(context.Background(), tt.subject, ds.ID)

			assert.True(t, apperr.Is(err, tt.kind))
			assert.Equal(t, tt.reason, apperr.ReasonOf(err))
			_, getErr := store.Datasets().Get(context.Background(), ds.ID)
			assert.NoError(t, getErr)
		})
	}
}

func TestDeleteDataset_OwnerRemovesFileAndDetachesTasks(t *testing.T) {
	svc, store, dir := newService(t)
	ds, err := svc.UploadDataset(context.Background(), alice, upload("sales.csv", "date,v\n2024-01-01,1\n"))
	require.NoError(t, err)
	tsk := store.SeedTask(task.Task{
		Name:        "t",
		Status:      task.PendingStatus,
		DatasetID:   null.IntFrom(ds.ID),
		DatasetName: null.StringFrom(ds.Name),
	})

	require.NoError(t, svc.DeleteDataset(context.Background(), alice, ds.ID))

	assert.Empty(t, files(t, dir))
	stored, _ := store.StoredTask(tsk.ID)
	assert.False(t, stored.DatasetID.Valid)
	assert.Equal(t, "sales.csv", stored.DatasetName.String, "display name survives")
}

func TestDeleteDataset_PresetFileKept(t *testing.T) {
	svc, store, dir := newService(t)
	path := filepath.Join(dir, "preset.csv")
	require.NoError(t, os.WriteFile(path, []byte("date,v\n"), 0o644))
	ds := store.SeedDataset(models.Dataset{Name: "preset", FilePath: path, IsPreset: true})

	require.NoError(t, svc.DeleteDataset(context.Background(), admin, ds.ID))

	assert.FileExists(t, path)
	err := svc.DeleteDataset(context.Background(), admin, ds.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestModels(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateModel(ctx, alice, ModelInput{Name: "ARIMA", ModelType: "arima"})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = svc.CreateModel(ctx, admin, ModelInput{Name: "ARIMA"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	m, err := svc.CreateModel(ctx, admin, ModelInput{Name: "ARIMA", ModelType: "arima"})
	require.NoError(t, err)
	assert.NotNil(t, m.DefaultParams)
	_, err = svc.CreateModel(ctx, admin, ModelInput{Name: "LSTM", ModelType: "lstm", DefaultParams: task.Params{"epochs": 10.0}})
	require.NoError(t, err)

	types, err := svc.ModelTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"arima", "lstm"}, types)

	page, err := svc.ListModels(ctx, repository.ModelFilter{ModelType: "lstm"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	name := "ARIMA(1,1,1)"
	updated, err := svc.UpdateModel(ctx, admin, m.ID, ModelPatch{Name: &name, DefaultParams: task.Params{"p": 1.0}})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, "arima", updated.ModelType)

	got, err := svc.GetModel(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.DefaultParams["p"])

	blank := " "
	_, err = svc.UpdateModel(ctx, admin, m.ID, ModelPatch{Name: &blank})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	assert.Len(t, store.LogEntries(), 3)
}

func TestDeleteModel(t *testing.T) {
	svc, store, _ := newService(t)
	m := store.SeedModel(models.Model{Name: "ARIMA", ModelType: "arima"})
	tsk := store.SeedTask(task.Task{Name: "t", Status: task.PendingStatus, ModelID: null.IntFrom(m.ID), ModelName: null.StringFrom("ARIMA")})

	err := svc.DeleteModel(context.Background(), alice, m.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	require.NoError(t, svc.DeleteModel(context.Background(), admin, m.ID))

	stored, _ := store.StoredTask(tsk.ID)
	assert.False(t, stored.ModelID.Valid)
	assert.Equal(t, "ARIMA", stored.ModelName.String)

	_, err = svc.GetModel(context.Background(), m.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
