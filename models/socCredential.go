package models

import "time"

// SocCredential stores the "exporta dados" parameters of one owner.
// Export keys are sealed with utils.SealSecret and never returned by the API.
type SocCredential struct {
	ID          uint   `gorm:"primary_key" json:"id"`
	Owner       string `gorm:"size:100;not null;uniqueIndex" json:"owner"`
	CompanyCode string `gorm:"size:20" json:"company_code"`
	BaseURL     string `gorm:"size:255" json:"base_url,omitempty"`

	CompanyExportCode     string `gorm:"size:20" json:"company_export_code"`
	CompanyExportKey      string `gorm:"type:text" json:"-"`
	EmployeeExportCode    string `gorm:"size:20" json:"employee_export_code"`
	EmployeeExportKey     string `gorm:"type:text" json:"-"`
	AbsenteeismExportCode string `gorm:"size:20" json:"absenteeism_export_code"`
	AbsenteeismExportKey  string `gorm:"type:text" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ExportFor returns the export code and sealed key configured for kind.
func (c SocCredential) ExportFor(kind string) (code string, sealedKey string) {
	switch kind {
	case SyncKindCompany:
		return c.CompanyExportCode, c.CompanyExportKey
	case SyncKindEmployee:
		return c.EmployeeExportCode, c.EmployeeExportKey
	case SyncKindAbsenteeism:
		return c.AbsenteeismExportCode, c.AbsenteeismExportKey
	}
	return "", ""
}
