package job

// Dataset namespaces used by the default layout.
const (
	DatasetHMIS = "h"
	DatasetCP   = "c"
)

// Default returns the shelter/waitlist layout the exports ship in: the HMIS
// program table joined to its client table, the Connecting Point case table
// joined to its client table, one Link Plus duplicate table per dataset and
// the cross-dataset match table.
func Default(id string) *Job {
	return &Job{
		ID: id,
		Datasets: []DatasetJob{
			{
				Name: DatasetHMIS,
				File: FileRef{Path: "hmis/program with family.csv"},
				Join: &JoinJob{
					File: FileRef{Path: "hmis/client de-identified.csv"},
					On:   "Subject Unique Identifier",
					How:  "inner",
				},
				IDColumn:         "Subject Unique Identifier",
				HouseholdColumn:  "Family Site Identifier",
				IndividualColumn: "Subject Unique Identifier",
				FamilyColumn:     "Family Identifier",
				DateColumns:      []string{"Program Start Date", "Program End Date", "DOB"},
				Groups: []GroupJob{{
					Name:        "hmis_family_site",
					Columns:     []string{"Family Site Identifier", "Program Start Date"},
					DateColumns: []string{"Program Start Date"},
				}},
				Output: "output/hmis.csv",
			},
			{
				Name:   DatasetCP,
				File:   FileRef{Path: "connecting_point/case.csv"},
				Rename: map[string]string{"caseid": "Caseid"},
				Join: &JoinJob{
					File: FileRef{Path: "connecting_point/client.csv"},
					On:   "Caseid",
					How:  "left",
				},
				IDColumn:         "Clientid",
				HouseholdColumn:  "Caseid",
				IndividualColumn: "Clientid",
				FamilyColumn:     "Familyid",
				DateColumns:      []string{"servstart", "servend", "LastUpdateDate"},
				Groups: []GroupJob{{
					Name:    "cp_case",
					Columns: []string{"Caseid"},
				}},
				Output: "output/cp.csv",
			},
		},
		Evidence: []EvidenceJob{
			{
				Name:     "hmis_client_duplicates",
				File:     FileRef{Path: "hmis/hmis_client_duplicates_link_plus.csv"},
				Mode:     "group",
				Dataset:  DatasetHMIS,
				IDColumn: "Subject Unique Identifier",
			},
			{
				Name:     "cp_client_duplicates",
				File:     FileRef{Path: "connecting_point/cp_client_duplicates_link_plus.csv"},
				Mode:     "group",
				Dataset:  DatasetCP,
				IDColumn: "Clientid",
			},
			{
				Name:         "cp_hmis_match",
				File:         FileRef{Path: "matching/cp_hmis_match_results.csv"},
				Mode:         "pair",
				LeftDataset:  DatasetCP,
				LeftColumn:   "clientid",
				RightDataset: DatasetHMIS,
				RightColumn:  "Subject Unique Identifier",
			},
		},
		Provenance: "output/provenance.csv",
	}
}
