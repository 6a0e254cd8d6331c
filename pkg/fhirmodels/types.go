package fhirmodels

// Common FHIR constants used across the application.

// Resource types the query pipeline targets.
const (
	ResourcePatient           = "Patient"
	ResourceCondition         = "Condition"
	ResourceObservation       = "Observation"
	ResourceMedicationRequest = "MedicationRequest"
	ResourceBundle            = "Bundle"
	ResourceOperationOutcome  = "OperationOutcome"
)

// AdministrativeGender codes.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)

// Patient search parameters.
const (
	ParamBirthdate = "birthdate"
	ParamGender    = "gender"
	ParamCount     = "_count"
	ParamInclude   = "_include"
)

// Reference search parameter linking a Condition to its Patient.
const ConditionSubject = "subject"

// Coding system URIs.
const (
	SystemSNOMED = "http://snomed.info/sct"
	SystemICD10  = "http://hl7.org/fhir/sid/icd-10-cm"
	SystemLOINC  = "http://loinc.org"
)

// MediaTypeFHIRJSON is the FHIR JSON content type.
const MediaTypeFHIRJSON = "application/fhir+json"
