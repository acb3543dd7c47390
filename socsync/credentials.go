package socsync

import (
	"context"
	"errors"
	"strings"

	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"bitbucket.org/mmdatafocus/hr_sync_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Period is the absenteeism query window, formatted dd/mm/yyyy.
type Period struct {
	Start string
	End   string
}

// CredentialProvider resolves the export parameters of (kind, owner).
type CredentialProvider interface {
	Resolve(ctx context.Context, kind, owner string, period Period) (Params, error)
}

type DBCredentialProvider struct {
	DB             *gorm.DB
	DefaultBaseURL string
}

func (p *DBCredentialProvider) Resolve(ctx context.Context, kind, owner string, period Period) (Params, error) {
	var cred models.SocCredential
	err := p.DB.WithContext(ctx).Where("owner = ?", owner).Take(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Params{}, &ConfigurationError{Owner: owner, Kind: kind, Field: "credentials"}
		}
		return Params{}, err
	}

	code, sealedKey := cred.ExportFor(kind)
	switch {
	case strings.TrimSpace(cred.CompanyCode) == "":
		return Params{}, &ConfigurationError{Owner: owner, Kind: kind, Field: "empresa"}
	case strings.TrimSpace(code) == "":
		return Params{}, &ConfigurationError{Owner: owner, Kind: kind, Field: "codigo"}
	case sealedKey == "":
		return Params{}, &ConfigurationError{Owner: owner, Kind: kind, Field: "chave"}
	}
	key, err := utils.OpenSecret(sealedKey)
	if err != nil {
		return Params{}, &ConfigurationError{Owner: owner, Kind: kind, Field: "chave", Err: err}
	}

	values := map[string]string{
		"empresa":   strings.TrimSpace(cred.CompanyCode),
		"codigo":    strings.TrimSpace(code),
		"chave":     key,
		"tipoSaida": "json",
	}
	if kind == models.SyncKindAbsenteeism {
		if period.Start == "" {
			return Params{}, &ConfigurationError{Owner: owner, Kind: kind, Field: "dataInicio"}
		}
		if period.End == "" {
			return Params{}, &ConfigurationError{Owner: owner, Kind: kind, Field: "dataFim"}
		}
		values["dataInicio"] = period.Start
		values["dataFim"] = period.End
	}

	baseURL := strings.TrimSpace(cred.BaseURL)
	if baseURL == "" {
		baseURL = p.DefaultBaseURL
	}
	if baseURL == "" {
		return Params{}, &ConfigurationError{Owner: owner, Kind: kind, Field: "base url"}
	}
	return Params{BaseURL: baseURL, Values: values}, nil
}

// SaveCredentials upserts the owner's SOC parameters. Empty keys keep the stored ones.
func SaveCredentials(ctx context.Context, db *gorm.DB, owner string, req CredentialsRequest) (*models.SocCredential, error) {
	var existing models.SocCredential
	err := db.WithContext(ctx).Where("owner = ?", owner).Take(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	cred := models.SocCredential{
		Owner:                 owner,
		CompanyCode:           strings.TrimSpace(req.CompanyCode),
		BaseURL:               strings.TrimSpace(req.BaseURL),
		CompanyExportCode:     strings.TrimSpace(req.CompanyExportCode),
		EmployeeExportCode:    strings.TrimSpace(req.EmployeeExportCode),
		AbsenteeismExportCode: strings.TrimSpace(req.AbsenteeismExportCode),
	}
	if cred.CompanyExportKey, err = sealOrKeep(req.CompanyExportKey, existing.CompanyExportKey); err != nil {
		return nil, err
	}
	if cred.EmployeeExportKey, err = sealOrKeep(req.EmployeeExportKey, existing.EmployeeExportKey); err != nil {
		return nil, err
	}
	if cred.AbsenteeismExportKey, err = sealOrKeep(req.AbsenteeismExportKey, existing.AbsenteeismExportKey); err != nil {
		return nil, err
	}

	err = db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"company_code", "base_url",
			"company_export_code", "company_export_key",
			"employee_export_code", "employee_export_key",
			"absenteeism_export_code", "absenteeism_export_key",
			"updated_at",
		}),
	}).Create(&cred).Error
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func sealOrKeep(plain, sealed string) (string, error) {
	plain = strings.TrimSpace(plain)
	if plain == "" {
		return sealed, nil
	}
	return utils.SealSecret(plain)
}
