package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Company struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	Owner       string    `gorm:"size:100;not null;uniqueIndex:idx_companies_code_owner,priority:2" json:"owner"`
	SocCode     string    `gorm:"size:20;not null;uniqueIndex:idx_companies_code_owner,priority:1" json:"soc_code"`
	ShortName   string    `gorm:"size:255" json:"short_name"`
	LegalName   string    `gorm:"size:255" json:"legal_name"`
	Cnpj        string    `gorm:"size:20" json:"cnpj"`
	Address     string    `gorm:"size:255" json:"address"`
	City        string    `gorm:"size:100" json:"city"`
	State       string    `gorm:"size:2" json:"state"`
	Active      bool      `gorm:"not null" json:"active"`
	Placeholder bool      `gorm:"not null;default:false" json:"placeholder"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Employee struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	Owner         string     `gorm:"size:100;not null;uniqueIndex:idx_employees_code_owner,priority:2;index:idx_employees_registration_owner,priority:2" json:"owner"`
	SocCode       string     `gorm:"size:20;not null;uniqueIndex:idx_employees_code_owner,priority:1" json:"soc_code"`
	CompanyId     *uint      `gorm:"index" json:"company_id"`
	CompanyCode   string     `gorm:"size:20" json:"company_code"`
	Name          string     `gorm:"size:255" json:"name"`
	Registration  string     `gorm:"size:50;index:idx_employees_registration_owner,priority:1" json:"registration"`
	Cpf           string     `gorm:"size:14" json:"cpf"`
	Sex           string     `gorm:"size:20" json:"sex"`
	Situation     string     `gorm:"size:50" json:"situation"`
	UnitCode      string     `gorm:"size:20" json:"unit_code"`
	UnitName      string     `gorm:"size:255" json:"unit_name"`
	SectorCode    string     `gorm:"size:20" json:"sector_code"`
	SectorName    string     `gorm:"size:255" json:"sector_name"`
	PositionCode  string     `gorm:"size:20" json:"position_code"`
	PositionName  string     `gorm:"size:255" json:"position_name"`
	BirthDate     *time.Time `gorm:"type:date" json:"birth_date"`
	AdmissionDate *time.Time `gorm:"type:date" json:"admission_date"`
	DismissalDate *time.Time `gorm:"type:date" json:"dismissal_date"`
	MobilePhone   string     `gorm:"size:30" json:"mobile_phone"`
	Email         string     `gorm:"size:255" json:"email"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Absenteeism is one medical-leave event. Its composite key only avoids duplicate
// events; it carries no business identity.
type Absenteeism struct {
	ID                   uint                `gorm:"primary_key" json:"id"`
	Owner                string              `gorm:"size:100;not null;uniqueIndex:idx_absenteeisms_event,priority:4" json:"owner"`
	EmployeeRegistration string              `gorm:"size:50;not null;uniqueIndex:idx_absenteeisms_event,priority:1" json:"employee_registration"`
	StartDate            *time.Time          `gorm:"type:date;uniqueIndex:idx_absenteeisms_event,priority:2" json:"start_date"`
	PrimaryCid           string              `gorm:"size:20;not null;default:'';uniqueIndex:idx_absenteeisms_event,priority:3" json:"primary_cid"`
	EmployeeId           *uint               `gorm:"index" json:"employee_id"`
	Unit                 string              `gorm:"size:255" json:"unit"`
	Sector               string              `gorm:"size:255" json:"sector"`
	CidDescription       string              `gorm:"size:255" json:"cid_description"`
	CidType              string              `gorm:"size:50" json:"cid_type"`
	LeaveType            string              `gorm:"size:100" json:"leave_type"`
	EndDate              *time.Time          `gorm:"type:date" json:"end_date"`
	StartTime            string              `gorm:"size:8" json:"start_time"`
	EndTime              string              `gorm:"size:8" json:"end_time"`
	DaysAway             *int16              `json:"days_away"`
	HoursAway            decimal.NullDecimal `gorm:"type:decimal(10,2)" json:"hours_away"`
	CreatedAt            time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}
