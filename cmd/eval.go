package cmd

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	yaml "go.yaml.in/yaml/v3"

	"github.com/lehigh-university-libraries/quadocr/pkg/ocr"
)

type EvalConfig struct {
	Engine    string   `yaml:"engine"`
	Language  string   `yaml:"language"`
	CSVPath   string   `yaml:"csv_path"`
	Dir       string   `yaml:"dir"`
	TestRows  []int    `yaml:"rows"`
	Timestamp string   `yaml:"timestamp"`
	Settings  Settings `yaml:"settings"`
}

type EvalResult struct {
	Identifier            string  `yaml:"identifier"`
	ImagePath             string  `yaml:"image_path"`
	TranscriptPath        string  `yaml:"transcript_path"`
	Recognized            string  `yaml:"recognized"`
	Lines                 int     `yaml:"lines"`
	CharacterSimilarity   float64 `yaml:"character_similarity"`
	WordSimilarity        float64 `yaml:"word_similarity"`
	WordAccuracy          float64 `yaml:"word_accuracy"`
	WordErrorRate         float64 `yaml:"word_error_rate"`
	TotalWordsOriginal    int     `yaml:"total_words_original"`
	TotalWordsTranscribed int     `yaml:"total_words_transcribed"`
	CorrectWords          int     `yaml:"correct_words"`
	Substitutions         int     `yaml:"substitutions"`
	Deletions             int     `yaml:"deletions"`
	Insertions            int     `yaml:"insertions"`
}

type EvalSummary struct {
	Config  EvalConfig   `yaml:"config"`
	Results []EvalResult `yaml:"results"`
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate an engine against ground truth transcripts",
	Long: `Evaluate an engine by comparing the text it recognizes, joined in reading
order, with ground truth transcripts.

The CSV lists one image and its transcript per row. A header row starting
with "image" is skipped.`,
	RunE: runEval,
}

var (
	evalEngine   string
	evalLanguage string
	evalCSVPath  string
	evalDir      string
	evalOutDir   string
	evalRows     []int
)

func init() {
	RootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringVar(&evalEngine, "engine", "", "Engine to evaluate (default from settings)")
	evalCmd.Flags().StringVar(&evalLanguage, "language", "", "BCP 47 language tag to recognize")
	evalCmd.Flags().StringVarP(&evalCSVPath, "csv", "c", "", "Path to CSV file with evaluation data (required)")
	evalCmd.Flags().StringVar(&evalDir, "dir", "./", "Prepend your CSV file paths with a directory")
	evalCmd.Flags().StringVar(&evalOutDir, "out", "evals", "Directory to save evaluation results to")
	evalCmd.Flags().IntSliceVar(&evalRows, "rows", []int{}, "A list of row numbers to run the test on")

	if err := evalCmd.MarkFlagRequired("csv"); err != nil {
		slog.Error("Unable to mark csv as required", "err", err)
		os.Exit(1)
	}
}

func runEval(cmd *cobra.Command, args []string) error {
	config := EvalConfig{
		Engine:    evalEngine,
		Language:  evalLanguage,
		CSVPath:   evalCSVPath,
		Dir:       evalDir,
		TestRows:  evalRows,
		Timestamp: time.Now().Format("2006-01-02_15-04-05"),
		Settings:  settings,
	}

	if err := os.MkdirAll(evalOutDir, 0755); err != nil {
		return fmt.Errorf("failed to create evals directory: %w", err)
	}

	registry := newRegistry()
	results, err := processEvaluation(config, func(imagePath string) (*ocr.Result, error) {
		img, err := ocr.LoadImage(imagePath)
		if err != nil {
			return nil, err
		}
		return recognize(cmd.Context(), registry, img, config.Engine, config.Language)
	})
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	outputPath := filepath.Join(evalOutDir, fmt.Sprintf("eval_%s.yaml", config.Timestamp))
	if err := saveEvalResults(EvalSummary{Config: config, Results: results}, outputPath); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}

	fmt.Printf("\nEvaluation completed. Results saved to: %s\n", outputPath)
	printSummaryStats(results)
	return nil
}

// processEvaluation scores every selected CSV row with recognizeFn.
func processEvaluation(config EvalConfig, recognizeFn func(imagePath string) (*ocr.Result, error)) ([]EvalResult, error) {
	file, err := os.Open(config.CSVPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("CSV file is empty")
	}

	dataRows := records
	if strings.EqualFold(strings.TrimSpace(records[0][0]), "image") {
		dataRows = records[1:]
	}

	var results []EvalResult
	for i, row := range dataRows {
		if len(config.TestRows) > 0 && !slices.Contains(config.TestRows, i) {
			slog.Debug("Skipping row", "row", i+1)
			continue
		}
		if len(row) < 2 {
			slog.Warn("Insufficient columns", "row", i+1)
			continue
		}

		result, err := processRow(row, config.Dir, recognizeFn)
		if err != nil {
			slog.Error("Error processing row", "row", i+1, "err", err)
			continue
		}

		results = append(results, result)
		printRowResult(result)
	}

	return results, nil
}

func processRow(row []string, dir string, recognizeFn func(string) (*ocr.Result, error)) (EvalResult, error) {
	imagePath := filepath.Join(dir, strings.TrimSpace(row[0]))
	transcriptPath := filepath.Join(dir, strings.TrimSpace(row[1]))

	groundTruth, err := os.ReadFile(transcriptPath)
	if err != nil {
		return EvalResult{}, fmt.Errorf("failed to read transcript: %w", err)
	}

	res, err := recognizeFn(imagePath)
	if err != nil {
		return EvalResult{}, fmt.Errorf("recognition failed: %w", err)
	}
	text, _ := res.AllText()

	result := CalculateAccuracyMetrics(string(groundTruth), text)
	result.Identifier = filepath.Base(imagePath)
	result.ImagePath = imagePath
	result.TranscriptPath = transcriptPath
	result.Recognized = text
	result.Lines = len(res.Lines)
	return result, nil
}

func saveEvalResults(summary EvalSummary, outputPath string) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return err
	}

	return os.WriteFile(outputPath, data, 0644)
}

func printRowResult(result EvalResult) {
	fmt.Printf("\n=== Results for %s ===\n", result.Identifier)
	fmt.Printf("Image: %s\n", result.ImagePath)
	fmt.Printf("Transcript: %s\n", result.TranscriptPath)
	fmt.Printf("Lines: %d\n", result.Lines)
	fmt.Printf("Character Similarity: %.3f\n", result.CharacterSimilarity)
	fmt.Printf("Word Similarity: %.3f\n", result.WordSimilarity)
	fmt.Printf("Word Accuracy: %.3f\n", result.WordAccuracy)
	fmt.Printf("Word Error Rate: %.3f\n", result.WordErrorRate)
	fmt.Printf("Correct Words: %d of %d\n", result.CorrectWords, result.TotalWordsOriginal)
	fmt.Printf("Substitutions: %d, Deletions: %d, Insertions: %d\n", result.Substitutions, result.Deletions, result.Insertions)
}

func printSummaryStats(results []EvalResult) {
	if len(results) == 0 {
		return
	}

	var totalCharSim, totalWordSim, totalWordAcc, totalWER float64
	for _, result := range results {
		totalCharSim += result.CharacterSimilarity
		totalWordSim += result.WordSimilarity
		totalWordAcc += result.WordAccuracy
		totalWER += result.WordErrorRate
	}

	count := float64(len(results))

	fmt.Printf("\n=== SUMMARY STATISTICS ===\n")
	fmt.Printf("Total Evaluations: %d\n", len(results))
	fmt.Printf("Average Character Similarity: %.3f\n", totalCharSim/count)
	fmt.Printf("Average Word Similarity: %.3f\n", totalWordSim/count)
	fmt.Printf("Average Word Accuracy: %.3f\n", totalWordAcc/count)
	fmt.Printf("Average Word Error Rate: %.3f\n", totalWER/count)
}

var whitespace = regexp.MustCompile(`\s+`)

func normalizeText(text string) string {
	return strings.ToLower(whitespace.ReplaceAllString(strings.TrimSpace(text), " "))
}

// levenshteinDistance counts rune edits between s1 and s2.
func levenshteinDistance(s1, s2 string) int {
	return editDistance([]rune(s1), []rune(s2))
}

func editDistance[T comparable](a, b []T) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func calculateSimilarity(s1, s2 string) float64 {
	maxLen := max(len([]rune(s1)), len([]rune(s2)))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshteinDistance(s1, s2))/float64(maxLen)
}

// calculateWordLevelMetrics aligns the word sequences and counts edits
func calculateWordLevelMetrics(orig, trans []string) (float64, int, int, int, int) {
	m, n := len(orig), len(trans)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
		dp[i][0] = i
	}
	for j := 0; j <= n; j++ {
		dp[0][j] = j
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if orig[i-1] == trans[j-1] {
				dp[i][j] = dp[i-1][j-1]
			} else {
				dp[i][j] = 1 + min(dp[i-1][j], dp[i][j-1], dp[i-1][j-1])
			}
		}
	}

	i, j := m, n
	substitutions, deletions, insertions, correct := 0, 0, 0, 0
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && orig[i-1] == trans[j-1]:
			correct++
			i--
			j--
		case i > 0 && j > 0 && dp[i][j] == dp[i-1][j-1]+1:
			substitutions++
			i--
			j--
		case i > 0 && dp[i][j] == dp[i-1][j]+1:
			deletions++
			i--
		default:
			insertions++
			j--
		}
	}

	wer := 0.0
	if m > 0 {
		wer = float64(substitutions+deletions+insertions) / float64(m)
	}
	return 1.0 - wer, correct, substitutions, deletions, insertions
}

func CalculateAccuracyMetrics(original, transcribed string) EvalResult {
	origNorm := normalizeText(original)
	transNorm := normalizeText(transcribed)
	origWords := strings.Fields(origNorm)
	transWords := strings.Fields(transNorm)

	wordAcc, correct, subs, dels, ins := calculateWordLevelMetrics(origWords, transWords)
	wordSim := 1.0
	if n := max(len(origWords), len(transWords)); n > 0 {
		wordSim = 1.0 - float64(editDistance(origWords, transWords))/float64(n)
	}

	return EvalResult{
		CharacterSimilarity:   calculateSimilarity(origNorm, transNorm),
		WordSimilarity:        wordSim,
		WordAccuracy:          wordAcc,
		WordErrorRate:         1.0 - wordAcc,
		TotalWordsOriginal:    len(origWords),
		TotalWordsTranscribed: len(transWords),
		CorrectWords:          correct,
		Substitutions:         subs,
		Deletions:             dels,
		Insertions:            ins,
	}
}
