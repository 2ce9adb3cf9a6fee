package fundApiModel

// RawEstimate is the jsonp payload of the realtime estimate endpoint.
type RawEstimate struct {
	FundCode     string `json:"fundcode"`
	Name         string `json:"name"`
	NavDate      string `json:"jzrq"`
	Nav          string `json:"dwjz"`
	Estimate     string `json:"gsz"`
	EstimatePct  string `json:"gszzl"`
	EstimateTime string `json:"gztime"`
}

type RawSearchResponse struct {
	Datas []RawSearchItem `json:"Datas"`
}

type RawSearchItem struct {
	Code     string `json:"CODE"`
	Name     string `json:"NAME"`
	Category string `json:"CATEGORYDESC"`
}

type RawNavResponse struct {
	Data       RawNavData `json:"Data"`
	TotalCount int        `json:"TotalCount"`
}

type RawNavData struct {
	NavList []RawNavItem `json:"LSJZList"`
}

type RawNavItem struct {
	Date string `json:"FSRQ"`
	Nav  string `json:"DWJZ"`
}
