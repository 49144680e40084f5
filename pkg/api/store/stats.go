package store

// topPathsLimit is the number of paths reported in Stats.TopPaths.
const topPathsLimit = 10

// Stats are aggregate statistics over a set of test results. Group entries
// keep the "_id" key existing dashboards read.
type Stats struct {
	Total       int64         `json:"total"`
	Successful  int64         `json:"successful"`
	Failed      int64         `json:"failed"`
	SuccessRate float64       `json:"successRate"`
	ByMethod    []MethodStats `json:"byMethod"`
	TopPaths    []PathStats   `json:"topPaths"`
}

// MethodStats counts results for one endpoint method.
type MethodStats struct {
	Method     string `json:"_id" bson:"_id" gorm:"column:method"`
	Count      int64  `json:"count" bson:"count" gorm:"column:count"`
	Successful int64  `json:"successful" bson:"successful" gorm:"column:successful"`
}

// PathStats counts results for one endpoint path.
type PathStats struct {
	Path      string  `json:"_id" bson:"_id" gorm:"column:path"`
	Count     int64   `json:"count" bson:"count" gorm:"column:count"`
	AvgStatus float64 `json:"avgStatus" bson:"avgStatus" gorm:"column:avg_status"`
}

// finalize derives the fields computed from the raw counts.
func (s *Stats) finalize() {
	s.Failed = s.Total - s.Successful

	if s.Total > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.Total) * 100
	} else {
		s.SuccessRate = 0
	}

	if s.ByMethod == nil {
		s.ByMethod = []MethodStats{}
	}

	if s.TopPaths == nil {
		s.TopPaths = []PathStats{}
	}
}
