package socsync

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"bitbucket.org/mmdatafocus/hr_sync_backend/utils"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	naturalKeyConflict = []clause.Column{{Name: "soc_code"}, {Name: "owner"}}

	absenteeismConflict = []clause.Column{
		{Name: "employee_registration"}, {Name: "start_date"}, {Name: "primary_cid"}, {Name: "owner"},
	}

	companyUpdateColumns = []string{
		"short_name", "legal_name", "cnpj", "address", "city", "state", "active", "placeholder", "updated_at",
	}

	employeeUpdateColumns = []string{
		"company_id", "company_code", "name", "registration", "cpf", "sex", "situation",
		"unit_code", "unit_name", "sector_code", "sector_name", "position_code", "position_name",
		"birth_date", "admission_date", "dismissal_date", "mobile_phone", "email", "updated_at",
	}
)

// Executor applies one batch to storage in sub-batches. Companies and employees
// are upserted by (soc_code, owner); absenteeism events are insert-only.
type Executor struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	SubBatchSize int
	PhoneRegion  string
}

type indexedRow[T any] struct {
	index int
	row   T
}

func (e *Executor) Execute(ctx context.Context, run *models.SyncRun, batch BatchRange, records []gjson.Result) BatchResult {
	ctx, span := tracer.Start(ctx, "soc.batch", trace.WithAttributes(
		attribute.Int64("sync.run_id", int64(run.ID)),
		attribute.String("sync.kind", run.Kind),
		attribute.Int("sync.batch_index", batch.Index),
		attribute.Int("sync.batch_size", len(records)),
	))
	defer span.End()

	var res BatchResult
	switch run.Kind {
	case models.SyncKindCompany:
		res = e.executeCompanies(ctx, run, batch, records)
	case models.SyncKindEmployee:
		res = e.executeEmployees(ctx, run, batch, records)
	case models.SyncKindAbsenteeism:
		res = e.executeAbsenteeism(ctx, run, batch, records)
	default:
		res = BatchResult{Failed: len(records)}
	}
	span.SetAttributes(attribute.Int("sync.success", res.Success), attribute.Int("sync.failed", res.Failed))
	return res
}

func (e *Executor) executeCompanies(ctx context.Context, run *models.SyncRun, batch BatchRange, records []gjson.Result) BatchResult {
	rows, failed := transformAll(ctx, e, run, batch, records, func(rec gjson.Result) (models.Company, error) {
		return TransformCompany(rec, run.Owner)
	})
	res := writeChunks(ctx, e, run, batch.Index, rows, func(db *gorm.DB, chunk []models.Company) error {
		chunk = dedupeLast(chunk, func(c models.Company) string { return c.SocCode })
		return db.Clauses(clause.OnConflict{
			Columns:   naturalKeyConflict,
			DoUpdates: clause.AssignmentColumns(companyUpdateColumns),
		}).Create(&chunk).Error
	})
	res.Failed += failed
	return res
}

func (e *Executor) executeEmployees(ctx context.Context, run *models.SyncRun, batch BatchRange, records []gjson.Result) BatchResult {
	rows, failed := transformAll(ctx, e, run, batch, records, func(rec gjson.Result) (models.Employee, error) {
		return TransformEmployee(rec, run.Owner, e.PhoneRegion)
	})

	codes := make([]string, 0)
	seen := make(map[string]bool)
	for _, r := range rows {
		if r.row.CompanyCode != "" && !seen[r.row.CompanyCode] {
			seen[r.row.CompanyCode] = true
			codes = append(codes, r.row.CompanyCode)
		}
	}
	companyIDs, err := e.ensureCompanies(ctx, run.Owner, codes)
	if err != nil {
		config.LogError(e.Logger, "socsync", "executeEmployees", "ensure companies", logrus.Fields{"run_id": run.ID, "batch": batch.Index}, err)
	}
	for i := range rows {
		if id, ok := companyIDs[rows[i].row.CompanyCode]; ok {
			id := id
			rows[i].row.CompanyId = &id
		}
	}

	res := writeChunks(ctx, e, run, batch.Index, rows, func(db *gorm.DB, chunk []models.Employee) error {
		chunk = dedupeLast(chunk, func(emp models.Employee) string { return emp.SocCode })
		return db.Clauses(clause.OnConflict{
			Columns:   naturalKeyConflict,
			DoUpdates: clause.AssignmentColumns(employeeUpdateColumns),
		}).Create(&chunk).Error
	})
	res.Failed += failed
	return res
}

func (e *Executor) executeAbsenteeism(ctx context.Context, run *models.SyncRun, batch BatchRange, records []gjson.Result) BatchResult {
	rows, failed := transformAll(ctx, e, run, batch, records, func(rec gjson.Result) (models.Absenteeism, error) {
		return TransformAbsenteeism(rec, run.Owner)
	})

	regs := make([]string, 0, len(rows))
	for _, r := range rows {
		regs = append(regs, r.row.EmployeeRegistration)
	}
	employeeIDs, err := e.employeesByRegistration(ctx, run.Owner, regs)
	if err != nil {
		config.LogError(e.Logger, "socsync", "executeAbsenteeism", "link employees", logrus.Fields{"run_id": run.ID, "batch": batch.Index}, err)
	}
	for i := range rows {
		if id, ok := employeeIDs[rows[i].row.EmployeeRegistration]; ok {
			id := id
			rows[i].row.EmployeeId = &id
		}
	}

	res := writeChunks(ctx, e, run, batch.Index, rows, func(db *gorm.DB, chunk []models.Absenteeism) error {
		return db.Clauses(clause.OnConflict{
			Columns:   absenteeismConflict,
			DoNothing: true,
		}).Create(&chunk).Error
	})
	res.Failed += failed
	return res
}

// ensureCompanies creates placeholder companies for unknown codes and returns code -> id.
func (e *Executor) ensureCompanies(ctx context.Context, owner string, codes []string) (map[string]uint, error) {
	out := make(map[string]uint, len(codes))
	if len(codes) == 0 {
		return out, nil
	}
	db := e.DB.WithContext(ctx)

	placeholders := make([]models.Company, 0, len(codes))
	for _, code := range codes {
		placeholders = append(placeholders, models.Company{
			Owner:       owner,
			SocCode:     code,
			ShortName:   "Empresa " + code,
			LegalName:   "Empresa " + code,
			Active:      true,
			Placeholder: true,
		})
	}
	if err := db.Clauses(clause.OnConflict{Columns: naturalKeyConflict, DoNothing: true}).Create(&placeholders).Error; err != nil {
		return out, err
	}

	var companies []models.Company
	if err := db.Select("id", "soc_code").Where("owner = ? AND soc_code IN ?", owner, codes).Find(&companies).Error; err != nil {
		return out, err
	}
	for _, c := range companies {
		out[c.SocCode] = c.ID
	}
	return out, nil
}

func (e *Executor) employeesByRegistration(ctx context.Context, owner string, regs []string) (map[string]uint, error) {
	out := make(map[string]uint, len(regs))
	if len(regs) == 0 {
		return out, nil
	}
	var employees []models.Employee
	err := e.DB.WithContext(ctx).
		Select("id", "registration").
		Where("owner = ? AND registration IN ?", owner, regs).
		Order("id asc").
		Find(&employees).Error
	if err != nil {
		return out, err
	}
	for _, emp := range employees {
		if _, ok := out[emp.Registration]; !ok {
			out[emp.Registration] = emp.ID
		}
	}
	return out, nil
}

// recordError persists one failure row. Persisting is best effort; the counters are authoritative.
func (e *Executor) recordError(ctx context.Context, run *models.SyncRun, batchIndex, recordIndex, count int, code, external string, cause error, raw string) {
	row := models.SyncRecordError{
		SyncRunId:    run.ID,
		Owner:        run.Owner,
		Kind:         run.Kind,
		BatchIndex:   batchIndex,
		RecordIndex:  recordIndex,
		RecordCount:  count,
		ExternalCode: utils.Truncate(external, 100),
		ErrorCode:    code,
		Message:      utils.Truncate(cause.Error(), 2000),
		RawPayload:   utils.Truncate(raw, 4000),
	}
	if err := e.DB.WithContext(ctx).Create(&row).Error; err != nil {
		config.LogError(e.Logger, "socsync", "recordError", "persist record error", row, err)
	}
	e.Logger.WithFields(logrus.Fields{
		"run_id":       run.ID,
		"owner":        run.Owner,
		"kind":         run.Kind,
		"batch":        batchIndex,
		"record":       recordIndex,
		"record_count": count,
		"error_code":   code,
	}).Warn(cause.Error())
}

func transformAll[T any](ctx context.Context, e *Executor, run *models.SyncRun, batch BatchRange, records []gjson.Result, fn func(gjson.Result) (T, error)) ([]indexedRow[T], int) {
	rows := make([]indexedRow[T], 0, len(records))
	failed := 0
	for i, rec := range records {
		idx := batch.Start + i
		row, err := fn(rec)
		if err != nil {
			var rpe *RecordProcessingError
			if errors.As(err, &rpe) {
				rpe.Index = idx
			}
			external := fieldString(rec, "CODIGO", "MATRICULA_FUNC")
			e.recordError(ctx, run, batch.Index, idx, 1, models.SyncErrorInvalidRecord, external, err, rec.Raw)
			failed++
			continue
		}
		rows = append(rows, indexedRow[T]{index: idx, row: row})
	}
	return rows, failed
}

// writeChunks stores rows in sub-batches. A failed sub-batch counts all its rows
// as failed and the next sub-batch still runs.
func writeChunks[T any](ctx context.Context, e *Executor, run *models.SyncRun, batchIndex int, rows []indexedRow[T], write func(db *gorm.DB, chunk []T) error) BatchResult {
	var res BatchResult
	size := e.SubBatchSize
	if size < 1 {
		size = len(rows)
	}
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		chunk := make([]T, 0, end-start)
		for _, r := range rows[start:end] {
			chunk = append(chunk, r.row)
		}
		if err := write(e.DB.WithContext(ctx), chunk); err != nil {
			res.Failed += len(chunk)
			e.recordError(ctx, run, batchIndex, rows[start].index, len(chunk), models.SyncErrorSubBatchFailed, "", err, "")
			continue
		}
		res.Success += len(chunk)
	}
	return res
}

// dedupeLast keeps the last row of each key, in first-seen order.
func dedupeLast[T any](rows []T, key func(T) string) []T {
	pos := make(map[string]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		k := key(r)
		if i, ok := pos[k]; ok {
			out[i] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}
