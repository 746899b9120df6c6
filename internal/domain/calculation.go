package domain

import "time"

// The calculation payload is the nested JSON value persisted alongside each
// snapshot for audit and drill-down. Its shape is a versioned contract with
// downstream map and statistics consumers; fields are explicit, never a
// dynamically shaped document.

// Rating is one finding type's classification as it stood at a moment.
// A repeated rating carries zero points: the same finding was already counted
// on another endpoint sharing the (ip version, port) label this moment.
type Rating struct {
	Type        string    `json:"type"`
	High        int       `json:"high"`
	Medium      int       `json:"medium"`
	Low         int       `json:"low"`
	Since       time.Time `json:"since"`
	LastScan    time.Time `json:"last_scan"`
	Explanation string    `json:"explanation,omitempty"`
	IsExplained bool      `json:"is_explained,omitempty"`
	Repeated    bool      `json:"repeated,omitempty"`
}

// EndpointCalculation is the per-endpoint breakdown inside a URL snapshot.
type EndpointCalculation struct {
	ID        int64  `json:"id"`
	Protocol  string `json:"protocol"`
	Port      int    `json:"port"`
	IPVersion int    `json:"ip_version"`

	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`

	ExplainedHigh   int `json:"explained_high"`
	ExplainedMedium int `json:"explained_medium"`
	ExplainedLow    int `json:"explained_low"`

	Ratings []Rating `json:"ratings"`
}

// WorstBucket is the endpoint's single category by its worst open issue.
func (e EndpointCalculation) WorstBucket() Bucket {
	switch {
	case e.High > 0:
		return BucketHigh
	case e.Medium > 0:
		return BucketMedium
	case e.Low > 0:
		return BucketLow
	default:
		return BucketOk
	}
}

// ExplainedBucket is the endpoint's category by its worst explained issue,
// BucketOk when nothing is explained.
func (e EndpointCalculation) ExplainedBucket() Bucket {
	switch {
	case e.ExplainedHigh > 0:
		return BucketHigh
	case e.ExplainedMedium > 0:
		return BucketMedium
	case e.ExplainedLow > 0:
		return BucketLow
	default:
		return BucketOk
	}
}

// UrlCalculation is the full nested payload of one URL snapshot. Ratings
// holds URL-level finding types (DNS security); endpoint findings sit in
// their endpoint's own entry.
type UrlCalculation struct {
	Url string `json:"url"`

	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`

	ExplainedHigh   int `json:"explained_high"`
	ExplainedMedium int `json:"explained_medium"`
	ExplainedLow    int `json:"explained_low"`

	Ratings   []Rating              `json:"ratings"`
	Endpoints []EndpointCalculation `json:"endpoints"`
}

// OrganizationCalculation sums the latest applicable URL calculations as of
// one instant.
type OrganizationCalculation struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`

	TotalIssues int `json:"total_issues"`

	TotalUrls  int `json:"total_urls"`
	HighUrls   int `json:"high_urls"`
	MediumUrls int `json:"medium_urls"`
	LowUrls    int `json:"low_urls"`
	OkUrls     int `json:"ok_urls"`

	TotalEndpoints  int `json:"total_endpoints"`
	HighEndpoints   int `json:"high_endpoints"`
	MediumEndpoints int `json:"medium_endpoints"`
	LowEndpoints    int `json:"low_endpoints"`
	OkEndpoints     int `json:"ok_endpoints"`

	ExplainedHigh   int `json:"explained_high"`
	ExplainedMedium int `json:"explained_medium"`
	ExplainedLow    int `json:"explained_low"`

	Urls []UrlCalculation `json:"urls"`
}
