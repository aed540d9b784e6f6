package schema

// FieldNameMap maps exact source field labels (the survey question text as it
// appears in Airtable, variants included) to canonical column names.
//
// Exact match runs before the cleaning fallback so that two semantically
// different questions that would clean to the same identifier cannot collide
// by accident. Variants of the same question map to the same canonical name
// on purpose; the merge engine folds the resulting duplicate columns.
var FieldNameMap = map[string]string{
	// Contact & bio
	"Email Address":               "contact_email",
	"What's your email?":          "applicant_email",
	"What's your email address?":  "applicant_email",
	"What's your full name?":      "applicant_name",
	"What's your phone number?":   "phone_number",
	"What's your location?":       "location",
	"Where are you based?":        "location",
	"Where's your startup headquartered?": "startup_hq",
	"What's your gender?":         "gender",
	"What's your gender":          "gender",

	// Startup info
	"Which theme is your startup most aligned with?":                  "theme_primary",
	"What's the name of your startup?":                                "startup_name",
	"What is your company making or going to make?":                   "product_description",
	"What is your company making / going to make? ":                   "product_description",
	"Describe what your startup does in 50 words or less.":            "product_description",
	"What's the URL of your demo video (1-2 minutes), if you have one?": "product_demo",
	"What's your startup's website URL?":                              "startup_website_url",
	"What's your startup's founding date?":                            "founding_date",

	// Documents
	"Please attach your current cap table as it exists today": "cap_table_link",
	"Please upload a copy of your startup's pitch deck":       "pitchdeck_link",
	"Please upload a copy of your startup's pitch deck?":      "pitchdeck_link",

	// Team
	"How many founders does your startup have?":                "num_founders",
	"How many female founders does your company have, if any?": "num_female_founders",
	"For each co-founder, please list out their title, email, location, nationality, and LinkedIn URL": "cofounders_details",
	"For each co-founder, please list out their title, email, location, and nationality.":              "cofounders_details",

	// Financials
	"What is your revenue in USD for each of the past 6 months?": "monthly_revenue_usd",
	"How much money do you spend per month?":                     "monthly_expenses_usd",
	"How much money does your startup spend per month?":          "monthly_expenses_usd",
	"How long is your runway (months)?":                          "runway_months",
	"How long is your runway?":                                   "runway_months",
	"Runway (Months)":                                            "runway_months",
	"How much money have you raised from investors, including friends and family, in total in US Dollars?": "total_raised_usd",
	"Fundraise Amount ($)": "latest_fundraise_usd",

	// Status
	"Status":             "application_status",
	"Application Status": "application_status",

	// Long-form program questions; these previously crashed the importer on
	// identifier length before they were mapped.
	"If you have already participated or committed to participate in an incubator, accelerator, or pre-accelerator program, please tell us about it.":      "prior_accelerators",
	"If you have already participated or committed to participate in an incubator, accelerator, or pre-accelerator program, please tell us about it/them.": "prior_accelerators",
}
