package socsync

import (
	"math"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"bitbucket.org/mmdatafocus/hr_sync_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Accepted date layouts, tried in order.
var dateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
}

func TransformCompany(rec gjson.Result, owner string) (models.Company, error) {
	code, err := requiredCode(rec, "CODIGO")
	if err != nil {
		return models.Company{}, err
	}
	c := models.Company{
		Owner:     owner,
		SocCode:   code,
		ShortName: fieldString(rec, "NOMEABREVIADO"),
		LegalName: fieldString(rec, "RAZAOSOCIAL", "RAZAO_SOCIAL"),
		Cnpj:      fieldString(rec, "CNPJ"),
		Address:   fieldString(rec, "ENDERECO"),
		City:      fieldString(rec, "CIDADE"),
		State:     strings.ToUpper(fieldString(rec, "UF")),
		Active:    flag(rec, true, "ATIVO"),
	}
	if c.ShortName == "" {
		c.ShortName = c.LegalName
	}
	return c, nil
}

func TransformEmployee(rec gjson.Result, owner, phoneRegion string) (models.Employee, error) {
	code, err := requiredCode(rec, "CODIGO")
	if err != nil {
		return models.Employee{}, err
	}
	companyCode := fieldString(rec, "CODIGOEMPRESA")
	if companyCode != "" && !isDigits(companyCode) {
		return models.Employee{}, &RecordProcessingError{Field: "CODIGOEMPRESA", Reason: "is not numeric"}
	}
	return models.Employee{
		Owner:         owner,
		SocCode:       code,
		CompanyCode:   companyCode,
		Name:          fieldString(rec, "NOME"),
		Registration:  fieldString(rec, "MATRICULAFUNCIONARIO", "MATRICULA"),
		Cpf:           fieldString(rec, "CPF"),
		Sex:           fieldString(rec, "SEXO"),
		Situation:     fieldString(rec, "SITUACAO"),
		UnitCode:      fieldString(rec, "CODIGOUNIDADE"),
		UnitName:      fieldString(rec, "NOMEUNIDADE"),
		SectorCode:    fieldString(rec, "CODIGOSETOR"),
		SectorName:    fieldString(rec, "NOMESETOR"),
		PositionCode:  fieldString(rec, "CODIGOCARGO"),
		PositionName:  fieldString(rec, "NOMECARGO"),
		BirthDate:     optionalDate(rec, "DATA_NASCIMENTO"),
		AdmissionDate: optionalDate(rec, "DATA_ADMISSAO"),
		DismissalDate: optionalDate(rec, "DATA_DEMISSAO"),
		MobilePhone:   utils.NormalizePhoneNumber(fieldString(rec, "TELEFONECELULAR"), phoneRegion),
		Email:         strings.ToLower(fieldString(rec, "EMAIL")),
	}, nil
}

func TransformAbsenteeism(rec gjson.Result, owner string) (models.Absenteeism, error) {
	registration := fieldString(rec, "MATRICULA_FUNC")
	if registration == "" {
		return models.Absenteeism{}, &RecordProcessingError{Field: "MATRICULA_FUNC", Reason: "is missing"}
	}
	days, err := optionalInt16(rec, "DIAS_AFASTADOS")
	if err != nil {
		return models.Absenteeism{}, err
	}
	hours, err := optionalDecimal(rec, "HORAS_AFASTADO")
	if err != nil {
		return models.Absenteeism{}, err
	}
	return models.Absenteeism{
		Owner:                owner,
		EmployeeRegistration: registration,
		StartDate:            optionalDate(rec, "DT_INICIO_ATESTADO"),
		PrimaryCid:           strings.ToUpper(fieldString(rec, "CID_PRINCIPAL")),
		Unit:                 fieldString(rec, "UNIDADE"),
		Sector:               fieldString(rec, "SETOR"),
		CidDescription:       fieldString(rec, "DESCRICAO_CID"),
		CidType:              fieldString(rec, "TIPO_CID"),
		LeaveType:            fieldString(rec, "TIPO_LICENCA"),
		EndDate:              optionalDate(rec, "DT_FIM_ATESTADO"),
		StartTime:            fieldString(rec, "HORA_INICIO_ATESTADO"),
		EndTime:              fieldString(rec, "HORA_FIM_ATESTADO"),
		DaysAway:             days,
		HoursAway:            hours,
	}, nil
}

// fieldString returns the first non-empty value among names, trimmed.
func fieldString(rec gjson.Result, names ...string) string {
	for _, name := range names {
		v := rec.Get(name)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return ""
}

func requiredCode(rec gjson.Result, name string) (string, error) {
	s := fieldString(rec, name)
	if s == "" {
		return "", &RecordProcessingError{Field: name, Reason: "is missing"}
	}
	if !isDigits(s) {
		return "", &RecordProcessingError{Field: name, Reason: "is not numeric"}
	}
	return s, nil
}

// optionalInt16 nulls out values that do not fit a smallint column.
// Text that is not a number at all fails the record.
func optionalInt16(rec gjson.Result, name string) (*int16, error) {
	s := fieldString(rec, name)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, &RecordProcessingError{Field: name, Reason: "is not numeric"}
		}
		if f > math.MaxInt16 || f < math.MinInt16 {
			return nil, nil
		}
		n = int64(math.Trunc(f))
	}
	if n > math.MaxInt16 || n < math.MinInt16 {
		return nil, nil
	}
	v := int16(n)
	return &v, nil
}

// optionalDecimal accepts "12,5", "12.5" and "1.234,56".
func optionalDecimal(rec gjson.Result, name string) (decimal.NullDecimal, error) {
	s := fieldString(rec, name)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, &RecordProcessingError{Field: name, Reason: "is not numeric"}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

// optionalDate never fails; unparseable values become nil.
func optionalDate(rec gjson.Result, name string) *time.Time {
	return parseDate(fieldString(rec, name))
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() < 1900 {
				return nil
			}
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}

func flag(rec gjson.Result, def bool, name string) bool {
	switch strings.ToUpper(fieldString(rec, name)) {
	case "1", "S", "SIM", "TRUE", "ATIVO", "ATIVA":
		return true
	case "0", "N", "NAO", "NÃO", "FALSE", "INATIVO", "INATIVA":
		return false
	}
	return def
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
