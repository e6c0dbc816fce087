package api

import "time"

// AnalysisStatus is the remote-reported state of an analysis.
type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "pending"
	StatusProcessing AnalysisStatus = "processing"
	StatusCompleted  AnalysisStatus = "completed"
	StatusFailed     AnalysisStatus = "failed"
)

// Terminal reports whether polling should stop at this status.
func (s AnalysisStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Point2D is a 2D point in image coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BoundingBox is a detection bounding box with confidence.
type BoundingBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
}

// Detection is a single detected feature on a fish.
type Detection struct {
	ClassName   string      `json:"class_name"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
	MaskArea    *float64    `json:"mask_area,omitempty"`
}

// Measurement is a single fish measurement between two points.
type Measurement struct {
	Name            string   `json:"name"`
	DistanceInches  float64  `json:"distance_inches"`
	Point1          Point2D  `json:"point1"`
	Point2          *Point2D `json:"point2,omitempty"`
	Label           string   `json:"label"`
	MeasurementType string   `json:"measurement_type"`
}

// ColorAnalysis holds fish color statistics.
type ColorAnalysis struct {
	MeanColorBGR     []float64   `json:"mean_color_bgr"`
	DominantColors   [][]float64 `json:"dominant_colors"`
	ColorPercentages []float64   `json:"color_percentages"`
	ColorVariance    []float64   `json:"color_variance"`
	TotalPixels      int         `json:"total_pixels"`
}

// LateralLineAnalysis holds lateral line linearity results.
type LateralLineAnalysis struct {
	LinearityScore   float64   `json:"linearity_score"`
	MeanDeviation    float64   `json:"mean_deviation"`
	MaxDeviation     float64   `json:"max_deviation"`
	CenterlinePoints []Point2D `json:"centerline_points"`
}

// CalibrationInfo describes the detected measurement grid.
type CalibrationInfo struct {
	PixelsPerInch        float64 `json:"pixels_per_inch"`
	GridSquareSizeInches float64 `json:"grid_square_size_inches"`
	DetectedSquares      int     `json:"detected_squares"`
	CalibrationQuality   string  `json:"calibration_quality"`
}

// ImageDimensions holds image width and height in pixels.
type ImageDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ProcessingMetadata describes how a result was produced.
type ProcessingMetadata struct {
	ProcessingTimeSeconds float64   `json:"processing_time_seconds"`
	ModelVersion          string    `json:"model_version"`
	APIVersion            string    `json:"api_version"`
	ProcessedAt           time.Time `json:"processed_at"`
}

// FishAnalysisResult is the complete analysis of a single image.
type FishAnalysisResult struct {
	AnalysisID          string               `json:"analysis_id"`
	ImagePath           string               `json:"image_path"`
	Status              AnalysisStatus       `json:"status"`
	ImageDimensions     ImageDimensions      `json:"image_dimensions"`
	Calibration         CalibrationInfo      `json:"calibration"`
	Detections          map[string]int       `json:"detections"`
	DetailedDetections  []Detection          `json:"detailed_detections"`
	Measurements        []Measurement        `json:"measurements"`
	ColorAnalysis       *ColorAnalysis       `json:"color_analysis,omitempty"`
	LateralLineAnalysis *LateralLineAnalysis `json:"lateral_line_analysis,omitempty"`
	ProcessingMetadata  ProcessingMetadata   `json:"processing_metadata"`
	VisualizationPaths  map[string]string    `json:"visualization_paths,omitempty"`
	ErrorMessage        string               `json:"error_message,omitempty"`
}

// UploadedFile describes one successfully uploaded file.
type UploadedFile struct {
	OriginalFilename string `json:"original_filename"`
	SavedFilename    string `json:"saved_filename"`
	FilePath         string `json:"file_path"`
	FileSize         int64  `json:"file_size"`
	UploadTime       string `json:"upload_time"`
}

// SingleUploadResponse is the server's answer to a single-file upload.
type SingleUploadResponse struct {
	Status         string                 `json:"status"`
	Message        string                 `json:"message"`
	FileInfo       UploadedFile           `json:"file_info"`
	AnalysisParams map[string]interface{} `json:"analysis_params,omitempty"`
	NextStep       string                 `json:"next_step,omitempty"`
}

// FailedFile describes one file the server rejected during upload.
type FailedFile struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// BatchUploadResponse is the server's answer to a batch upload.
type BatchUploadResponse struct {
	Status         string                 `json:"status"`
	Message        string                 `json:"message"`
	BatchID        string                 `json:"batch_id"`
	UploadedFiles  []UploadedFile         `json:"uploaded_files"`
	FailedFiles    []FailedFile           `json:"failed_files"`
	AnalysisParams map[string]interface{} `json:"analysis_params,omitempty"`
	NextStep       string                 `json:"next_step,omitempty"`
	Summary        map[string]int         `json:"summary,omitempty"`
}

// AnalysisConfig carries the analysis parameters sent with uploads and
// analysis starts.
type AnalysisConfig struct {
	GridSquareSizeInches  float64 `json:"grid_square_size_inches"`
	IncludeVisualizations bool    `json:"include_visualizations"`
}

// BatchAnalysisRequest starts remote analysis of uploaded images.
type BatchAnalysisRequest struct {
	Images                []string `json:"images"`
	GridSquareSizeInches  float64  `json:"grid_square_size_inches"`
	IncludeVisualizations bool     `json:"include_visualizations"`
	BatchID               string   `json:"batch_id,omitempty"`
}

// BatchAnalysisStarted acknowledges a started batch analysis.
type BatchAnalysisStarted struct {
	Message        string   `json:"message"`
	BatchID        string   `json:"batch_id"`
	TotalImages    int      `json:"total_images"`
	InvalidImages  []string `json:"invalid_images,omitempty"`
	StatusCheckURL string   `json:"status_check_url"`
}

// AnalysisProgress is one poll snapshot of a running batch.
type AnalysisProgress struct {
	BatchID                 string         `json:"batch_id"`
	Status                  AnalysisStatus `json:"status"`
	TotalImages             int            `json:"total_images"`
	CompletedImages         int            `json:"completed_images"`
	FailedImages            int            `json:"failed_images"`
	CurrentImage            string         `json:"current_image,omitempty"`
	ProgressPercent         float64        `json:"progress_percent"`
	EstimatedCompletionTime string         `json:"estimated_completion_time,omitempty"`
	ProcessingRate          *float64       `json:"processing_rate,omitempty"`
	AverageProcessingTime   *float64       `json:"average_processing_time,omitempty"`
}

// BatchAnalysisResult is the batch-level result envelope.
type BatchAnalysisResult struct {
	BatchID            string               `json:"batch_id"`
	Status             AnalysisStatus       `json:"status"`
	TotalImages        int                  `json:"total_images"`
	CompletedImages    int                  `json:"completed_images"`
	FailedImages       int                  `json:"failed_images"`
	Results            []FishAnalysisResult `json:"results"`
	ProcessingMetadata ProcessingMetadata   `json:"processing_metadata"`
	ErrorMessage       string               `json:"error_message,omitempty"`
}

// PopulationDistribution is the statistical distribution of one measurement
// across the batch.
type PopulationDistribution struct {
	MeasurementName string  `json:"measurement_name"`
	Mean            float64 `json:"mean"`
	Median          float64 `json:"median"`
	StdDev          float64 `json:"std_dev"`
	MinValue        float64 `json:"min_value"`
	MaxValue        float64 `json:"max_value"`
	Q25             float64 `json:"q25"`
	Q75             float64 `json:"q75"`
	Skewness        float64 `json:"skewness"`
	Kurtosis        float64 `json:"kurtosis"`
	SampleSize      int     `json:"sample_size"`
}

// PopulationCorrelation is the correlation between two measurements.
type PopulationCorrelation struct {
	Measurement1           string  `json:"measurement1"`
	Measurement2           string  `json:"measurement2"`
	CorrelationCoefficient float64 `json:"correlation_coefficient"`
	PValue                 float64 `json:"p_value"`
	RelationshipStrength   string  `json:"relationship_strength"`
}

// PopulationInsight is a generated statistical insight.
type PopulationInsight struct {
	Category                string   `json:"category"`
	Title                   string   `json:"title"`
	Insight                 string   `json:"insight"`
	Confidence              float64  `json:"confidence"`
	DataPoints              int      `json:"data_points"`
	StatisticalSignificance *float64 `json:"statistical_significance,omitempty"`
}

// SizeClassification buckets fish counts by size category.
type SizeClassification struct {
	Count      int       `json:"count"`
	Percentage float64   `json:"percentage"`
	Range      []float64 `json:"range"`
}

// QualityMetrics summarizes detection confidence across the batch.
type QualityMetrics struct {
	HighConfidence             int     `json:"high_confidence"`
	MediumConfidence           int     `json:"medium_confidence"`
	LowConfidence              int     `json:"low_confidence"`
	AverageDetectionConfidence float64 `json:"average_detection_confidence"`
}

// PopulationStatistics is the full population analysis for a batch.
type PopulationStatistics struct {
	TotalFish             int                           `json:"total_fish"`
	SuccessfulAnalyses    int                           `json:"successful_analyses"`
	FailedAnalyses        int                           `json:"failed_analyses"`
	ProcessingTimeTotal   float64                       `json:"processing_time_total"`
	ProcessingTimeAverage float64                       `json:"processing_time_average"`
	Distributions         []PopulationDistribution      `json:"distributions"`
	Correlations          []PopulationCorrelation       `json:"correlations"`
	Insights              []PopulationInsight           `json:"insights"`
	SizeClassification    map[string]SizeClassification `json:"size_classification"`
	QualityMetrics        QualityMetrics                `json:"quality_metrics"`
}

// BatchAnalysisResultEnhanced adds population statistics to a batch result.
type BatchAnalysisResultEnhanced struct {
	BatchAnalysisResult
	PopulationStatistics PopulationStatistics `json:"population_statistics"`
	VisualizationURLs    map[string][]string  `json:"visualization_urls,omitempty"`
}

// PaginationMeta is the pagination envelope for paged results.
type PaginationMeta struct {
	TotalItems   int  `json:"total_items"`
	ItemsPerPage int  `json:"items_per_page"`
	CurrentPage  int  `json:"current_page"`
	TotalPages   int  `json:"total_pages"`
	HasNext      bool `json:"has_next"`
	HasPrevious  bool `json:"has_previous"`
	NextPage     *int `json:"next_page,omitempty"`
	PreviousPage *int `json:"previous_page,omitempty"`
}

// PaginatedResults is one page of individual results.
type PaginatedResults struct {
	Items      []FishAnalysisResult `json:"items"`
	Pagination PaginationMeta       `json:"pagination"`
}

// ResultsQuery selects and orders a page of individual results.
type ResultsQuery struct {
	Page         int
	PerPage      int
	StatusFilter AnalysisStatus
	SortBy       string
	SortOrder    string
	Search       string
}

// DefaultResultsQuery returns the first page with server defaults.
func DefaultResultsQuery() ResultsQuery {
	return ResultsQuery{Page: 1, PerPage: 12, SortBy: "created_at", SortOrder: "desc"}
}

// ComprehensiveBatchResult bundles the enhanced batch result, the first
// page of individual results, and download URLs.
type ComprehensiveBatchResult struct {
	BatchAnalysis    BatchAnalysisResultEnhanced `json:"batch_analysis"`
	PaginatedResults PaginatedResults            `json:"paginated_results"`
	DownloadURLs     map[string]string           `json:"download_urls,omitempty"`
}

// CancelResponse acknowledges a best-effort batch cancellation.
type CancelResponse struct {
	Message string `json:"message"`
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
}

// HealthResponse reports remote service and model health.
type HealthResponse struct {
	Status      string                 `json:"status"`
	ModelLoaded bool                   `json:"model_loaded"`
	ModelInfo   map[string]interface{} `json:"model_info,omitempty"`
}

// SingleAnalysisRequest analyzes one already-uploaded image.
type SingleAnalysisRequest struct {
	ImagePath                  string  `json:"image_path"`
	GridSquareSizeInches       float64 `json:"grid_square_size_inches"`
	IncludeVisualizations      bool    `json:"include_visualizations"`
	IncludeColorAnalysis       bool    `json:"include_color_analysis"`
	IncludeLateralLineAnalysis bool    `json:"include_lateral_line_analysis"`
}
