package models

import "time"

// NumericalAggregate is one quantitative snapshot for a submission. The quant
// stage writes a working (non-final) row with cohort fields zeroed; the
// aggregation engine writes cohort-normalized rows and keeps exactly one per
// submission marked final. Superseded rows are history, never deleted.
type NumericalAggregate struct {
	ID                 string             `json:"id" db:"id"`
	SubmissionID       string             `json:"submission_id" db:"submission_id"`
	PerQuestionMedians map[string]float64 `json:"per_question_medians" db:"per_question_medians"`
	PerCriterionScores map[string]float64 `json:"per_criterion_scores" db:"per_criterion_scores"`
	QuantScoreRaw      float64            `json:"quant_score_raw" db:"quant_score_raw"`
	ZQuant             float64            `json:"z_quant" db:"z_quant"`
	FinalScore         float64            `json:"final_score" db:"final_score"`
	CohortN            int                `json:"cohort_n" db:"cohort_n"`
	CohortMean         float64            `json:"cohort_mean" db:"cohort_mean"`
	CohortStdDev       float64            `json:"cohort_std_dev" db:"cohort_std_dev"`
	IsFinalSnapshot    bool               `json:"is_final_snapshot" db:"is_final_snapshot"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
}

// SentimentAggregate is the qualitative counterpart of NumericalAggregate.
type SentimentAggregate struct {
	ID              string    `json:"id" db:"id"`
	SubmissionID    string    `json:"submission_id" db:"submission_id"`
	AvgPositive     float64   `json:"avg_positive" db:"avg_positive"`
	AvgNeutral      float64   `json:"avg_neutral" db:"avg_neutral"`
	AvgNegative     float64   `json:"avg_negative" db:"avg_negative"`
	QualScoreRaw    float64   `json:"qual_score_raw" db:"qual_score_raw"`
	ZQual           float64   `json:"z_qual" db:"z_qual"`
	CohortN         int       `json:"cohort_n" db:"cohort_n"`
	CohortMean      float64   `json:"cohort_mean" db:"cohort_mean"`
	CohortStdDev    float64   `json:"cohort_std_dev" db:"cohort_std_dev"`
	IsFinalSnapshot bool      `json:"is_final_snapshot" db:"is_final_snapshot"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// AnswerSentiment is the collaborator's inference for one open-ended answer.
type AnswerSentiment struct {
	ID            string         `json:"id" db:"id"`
	AnswerID      string         `json:"answer_id" db:"answer_id"`
	Label         SentimentLabel `json:"label" db:"label"`
	LabelScore    float64        `json:"label_score" db:"label_score"`
	PositiveScore float64        `json:"positive_score" db:"positive_score"`
	NeutralScore  float64        `json:"neutral_score" db:"neutral_score"`
	NegativeScore float64        `json:"negative_score" db:"negative_score"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// AnswerKeyword is one extracted keyword with its relevance, unique per
// (answer, keyword).
type AnswerKeyword struct {
	ID        string  `json:"id" db:"id"`
	AnswerID  string  `json:"answer_id" db:"answer_id"`
	Keyword   string  `json:"keyword" db:"keyword"`
	Relevance float64 `json:"relevance" db:"relevance_score"`
}

// SentimentCoverage is the share of a submission's open-ended answers with a
// stored inference. Aggregation uses it to decide snapshot finality.
type SentimentCoverage struct {
	Analyzed int
	Total    int
}

// Ratio returns 1 for a submission with no open-ended answers: nothing is
// missing, so coverage is complete by definition.
func (c SentimentCoverage) Ratio() float64 {
	if c.Total == 0 {
		return 1
	}
	return float64(c.Analyzed) / float64(c.Total)
}
