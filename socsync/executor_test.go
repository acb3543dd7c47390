package socsync

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

func newTestExecutor(t *testing.T, db *gorm.DB, subBatch int) *Executor {
	t.Helper()
	return &Executor{DB: db, Logger: testLogger(), SubBatchSize: subBatch, PhoneRegion: "BR"}
}

func createRun(t *testing.T, db *gorm.DB, kind string) *models.SyncRun {
	t.Helper()
	run := &models.SyncRun{Owner: testOwner, Kind: kind, Status: models.SyncStatusProcessing}
	require.NoError(t, db.Create(run).Error)
	return run
}

func records(raw string) []gjson.Result {
	return gjson.Parse(raw).Array()
}

func TestExecuteCompaniesIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	exec := newTestExecutor(t, db, 2)
	run := createRun(t, db, models.SyncKindCompany)
	recs := records(companiesJSON(5))
	batch := BatchRange{Index: 0, Start: 0, End: 5}

	first := exec.Execute(context.Background(), run, batch, recs)
	second := exec.Execute(context.Background(), run, batch, recs)

	assert.Equal(t, BatchResult{Success: 5}, first)
	assert.Equal(t, BatchResult{Success: 5}, second)
	assert.EqualValues(t, 5, countRows(t, db, &models.Company{}))
}

func TestExecuteCompaniesUpdatesExistingRow(t *testing.T) {
	db := newTestDB(t)
	exec := newTestExecutor(t, db, 50)
	run := createRun(t, db, models.SyncKindCompany)

	exec.Execute(context.Background(), run, BatchRange{End: 1}, records(`[{"CODIGO":"9","NOMEABREVIADO":"Old"}]`))
	exec.Execute(context.Background(), run, BatchRange{End: 1}, records(`[{"CODIGO":"9","NOMEABREVIADO":"New","ATIVO":"N"}]`))

	var c models.Company
	require.NoError(t, db.Where("soc_code = ?", "9").First(&c).Error)
	assert.Equal(t, "New", c.ShortName)
	assert.False(t, c.Active)
}

func TestExecuteCompaniesDuplicateCodeInBatchKeepsLast(t *testing.T) {
	db := newTestDB(t)
	exec := newTestExecutor(t, db, 50)
	run := createRun(t, db, models.SyncKindCompany)

	res := exec.Execute(context.Background(), run, BatchRange{End: 2},
		records(`[{"CODIGO":"3","NOMEABREVIADO":"First"},{"CODIGO":"3","NOMEABREVIADO":"Second"}]`))

	assert.Equal(t, 2, res.Success)
	var c models.Company
	require.NoError(t, db.Where("soc_code = ?", "3").First(&c).Error)
	assert.Equal(t, "Second", c.ShortName)
	assert.EqualValues(t, 1, countRows(t, db, &models.Company{}))
}

func TestExecuteInvalidRecordsAreReported(t *testing.T) {
	db := newTestDB(t)
	exec := newTestExecutor(t, db, 50)
	run := createRun(t, db, models.SyncKindCompany)

	res := exec.Execute(context.Background(), run, BatchRange{Index: 2, Start: 100, End: 103},
		records(`[{"CODIGO":"1"},{"CODIGO":"abc"},{"NOMEABREVIADO":"sem codigo"}]`))

	assert.Equal(t, BatchResult{Success: 1, Failed: 2}, res)

	var errs []models.SyncRecordError
	require.NoError(t, db.Order("record_index").Find(&errs).Error)
	require.Len(t, errs, 2)
	assert.Equal(t, 101, errs[0].RecordIndex)
	assert.Equal(t, 2, errs[0].BatchIndex)
	assert.Equal(t, "abc", errs[0].ExternalCode)
	assert.Equal(t, models.SyncErrorInvalidRecord, errs[0].ErrorCode)
	assert.Contains(t, errs[0].RawPayload, `"abc"`)
	assert.Equal(t, 102, errs[1].RecordIndex)
	assert.Equal(t, run.ID, errs[1].SyncRunId)
}

func TestExecuteSubBatchFailureContinuesWithNextSubBatch(t *testing.T) {
	db := newTestDB(t)
	creates := 0
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_second_chunk", func(tx *gorm.DB) {
		if tx.Statement.Schema == nil || tx.Statement.Schema.Table != "companies" {
			return
		}
		creates++
		if creates == 2 {
			_ = tx.AddError(errors.New("deadlock detected"))
		}
	}))
	exec := newTestExecutor(t, db, 2)
	run := createRun(t, db, models.SyncKindCompany)

	res := exec.Execute(context.Background(), run, BatchRange{End: 5}, records(companiesJSON(5)))

	assert.Equal(t, BatchResult{Success: 3, Failed: 2}, res)
	assert.EqualValues(t, 3, countRows(t, db, &models.Company{}))

	var errs []models.SyncRecordError
	require.NoError(t, db.Find(&errs).Error)
	require.Len(t, errs, 1)
	assert.Equal(t, models.SyncErrorSubBatchFailed, errs[0].ErrorCode)
	assert.Equal(t, 2, errs[0].RecordIndex)
	assert.Equal(t, 2, errs[0].RecordCount)
	assert.Contains(t, errs[0].Message, "deadlock detected")
}

func TestExecuteEmployeesCreatesPlaceholderCompany(t *testing.T) {
	db := newTestDB(t)
	exec := newTestExecutor(t, db, 50)
	empRun := createRun(t, db, models.SyncKindEmployee)

	res := exec.Execute(context.Background(), empRun, BatchRange{End: 2}, records(`[
		{"CODIGO":"1","CODIGOEMPRESA":"77","NOME":"Ana","MATRICULAFUNCIONARIO":"A1"},
		{"CODIGO":"2","CODIGOEMPRESA":"77","NOME":"Bia","MATRICULAFUNCIONARIO":"B2"}
	]`))
	assert.Equal(t, BatchResult{Success: 2}, res)

	var placeholder models.Company
	require.NoError(t, db.Where("soc_code = ?", "77").First(&placeholder).Error)
	assert.True(t, placeholder.Placeholder)

	var emps []models.Employee
	require.NoError(t, db.Order("soc_code").Find(&emps).Error)
	require.Len(t, emps, 2)
	require.NotNil(t, emps[0].CompanyId)
	assert.Equal(t, placeholder.ID, *emps[0].CompanyId)

	compRun := createRun(t, db, models.SyncKindCompany)
	exec.Execute(context.Background(), compRun, BatchRange{End: 1}, records(`[{"CODIGO":"77","NOMEABREVIADO":"Real Co"}]`))

	var real models.Company
	require.NoError(t, db.Where("soc_code = ?", "77").First(&real).Error)
	assert.Equal(t, placeholder.ID, real.ID)
	assert.False(t, real.Placeholder)
	assert.Equal(t, "Real Co", real.ShortName)
}

func TestExecuteAbsenteeismIgnoresDuplicates(t *testing.T) {
	db := newTestDB(t)
	exec := newTestExecutor(t, db, 50)

	empRun := createRun(t, db, models.SyncKindEmployee)
	exec.Execute(context.Background(), empRun, BatchRange{End: 1}, records(`[{"CODIGO":"5","MATRICULAFUNCIONARIO":"M-5"}]`))

	run := createRun(t, db, models.SyncKindAbsenteeism)
	batch := records(`[
		{"MATRICULA_FUNC":"M-5","DT_INICIO_ATESTADO":"01/02/2024","CID_PRINCIPAL":"J11","DIAS_AFASTADOS":"2"},
		{"MATRICULA_FUNC":"M-9","DT_INICIO_ATESTADO":"03/02/2024","CID_PRINCIPAL":"A09"}
	]`)

	first := exec.Execute(context.Background(), run, BatchRange{End: 2}, batch)
	second := exec.Execute(context.Background(), run, BatchRange{End: 2}, batch)

	assert.Equal(t, BatchResult{Success: 2}, first)
	assert.Equal(t, BatchResult{Success: 2}, second)
	assert.EqualValues(t, 2, countRows(t, db, &models.Absenteeism{}))

	var linked models.Absenteeism
	require.NoError(t, db.Where("employee_registration = ?", "M-5").First(&linked).Error)
	require.NotNil(t, linked.EmployeeId)
	require.NotNil(t, linked.DaysAway)
	assert.EqualValues(t, 2, *linked.DaysAway)

	var orphan models.Absenteeism
	require.NoError(t, db.Where("employee_registration = ?", "M-9").First(&orphan).Error)
	assert.Nil(t, orphan.EmployeeId)
}

func TestDedupeLast(t *testing.T) {
	in := []string{"a1", "b1", "a2", "c1", "b2"}
	out := dedupeLast(in, func(s string) string { return s[:1] })
	assert.Equal(t, []string{"a2", "b2", "c1"}, out)
}
