package terminology

// DefaultEntries returns the built-in SNOMED CT condition table. Adding a
// condition means adding a row here; nothing else changes.
func DefaultEntries() []Entry {
	return []Entry{
		{
			CanonicalTerm: "diabetes",
			Code:          "44054006",
			System:        SystemSNOMED,
			Display:       "Diabetes mellitus",
			Variants:      []string{"diabetic", "diabetes mellitus", "sugar diabetes"},
		},
		{
			CanonicalTerm: "hypertension",
			Code:          "38341003",
			System:        SystemSNOMED,
			Display:       "Hypertension",
			Variants:      []string{"hypertensive", "high blood pressure"},
		},
		{
			CanonicalTerm: "heart disease",
			Code:          "56265001",
			System:        SystemSNOMED,
			Display:       "Heart disease",
			Variants:      []string{"cardiac disease", "heart condition"},
		},
		{
			CanonicalTerm: "asthma",
			Code:          "195967001",
			System:        SystemSNOMED,
			Display:       "Asthma",
			Variants:      []string{"asthmatic"},
		},
		{
			CanonicalTerm: "depression",
			Code:          "35489007",
			System:        SystemSNOMED,
			Display:       "Depressive disorder",
			Variants:      []string{"depressive disorder", "depressed"},
		},
		{
			CanonicalTerm: "cancer",
			Code:          "363346000",
			System:        SystemSNOMED,
			Display:       "Malignant neoplastic disease",
			Variants:      []string{"malignancy", "malignant neoplasm"},
		},
		{
			CanonicalTerm: "copd",
			Code:          "13645005",
			System:        SystemSNOMED,
			Display:       "Chronic obstructive lung disease",
			Variants:      []string{"chronic obstructive pulmonary disease", "chronic obstructive lung disease"},
		},
		{
			CanonicalTerm: "obesity",
			Code:          "414916001",
			System:        SystemSNOMED,
			Display:       "Obesity",
			Variants:      []string{"obese"},
		},
		{
			CanonicalTerm: "chronic kidney disease",
			Code:          "709044004",
			System:        SystemSNOMED,
			Display:       "Chronic kidney disease",
			Variants:      []string{"ckd"},
		},
		{
			CanonicalTerm: "atrial fibrillation",
			Code:          "49436004",
			System:        SystemSNOMED,
			Display:       "Atrial fibrillation",
			Variants:      []string{"afib"},
		},
		{
			CanonicalTerm: "hyperlipidemia",
			Code:          "55822004",
			System:        SystemSNOMED,
			Display:       "Hyperlipidemia",
			Variants:      []string{"high cholesterol"},
		},
		{
			CanonicalTerm: "stroke",
			Code:          "230690007",
			System:        SystemSNOMED,
			Display:       "Cerebrovascular accident",
			Variants:      []string{"cerebrovascular accident"},
		},
		{
			CanonicalTerm: "anxiety",
			Code:          "197480006",
			System:        SystemSNOMED,
			Display:       "Anxiety disorder",
			Variants:      []string{"anxiety disorder"},
		},
	}
}
