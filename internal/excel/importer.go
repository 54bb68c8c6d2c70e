package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/example/recallengine/internal/database"
	"github.com/example/recallengine/pkg/models"
)

// ImportConfig defines the import configuration. Columns are 0-based
// positions in each row: concept name, theme, block, and an optional seed
// difficulty on the 0-100 Elo scale.
type ImportConfig struct {
	FilePath         string
	NameColumn       int
	ThemeColumn      int
	BlockColumn      int
	DifficultyColumn int
	SheetName        string
	StartRow         int // 1-based row to start importing from
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		NameColumn:       0,
		ThemeColumn:      1,
		BlockColumn:      2,
		DifficultyColumn: 3,
		SheetName:        "Sheet1",
		StartRow:         2, // skip the header row
	}
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	TotalProcessed int
	Created        int
	Updated        int
	Seeded         int
	Skipped        int
	Errors         []string
}

// ImportConcepts imports the concept catalog from an Excel or CSV file.
// Re-imports are idempotent: concept ids are derived from block/theme/name,
// so an unchanged row updates in place, and difficulty rows are only seeded
// for concepts that have never been attempted.
func ImportConcepts(ctx context.Context, cfg ImportConfig) (*ImportResult, error) {
	ext := strings.ToLower(filepath.Ext(cfg.FilePath))
	if ext == ".csv" {
		return importFromCSV(ctx, cfg)
	}
	return importFromExcel(ctx, cfg)
}

// importFromExcel imports concepts from an Excel file
func importFromExcel(ctx context.Context, cfg ImportConfig) (*ImportResult, error) {
	f, err := excelize.OpenFile(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(cfg.SheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}

	result := &ImportResult{Errors: make([]string, 0)}
	for i, row := range rows {
		if i < cfg.StartRow-1 {
			continue
		}
		result.TotalProcessed++
		if err := processRow(ctx, row, cfg, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", i+1, err))
		}
	}
	return result, nil
}

// importFromCSV imports concepts from a CSV file
func importFromCSV(ctx context.Context, cfg ImportConfig) (*ImportResult, error) {
	file, err := os.Open(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	result := &ImportResult{Errors: make([]string, 0)}
	rowNum := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		rowNum++
		if rowNum < cfg.StartRow {
			continue
		}
		result.TotalProcessed++
		if err := processRow(ctx, row, cfg, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", rowNum, err))
		}
	}
	return result, nil
}

// processRow upserts one concept and, when a seed difficulty is present,
// seeds its calibration row.
func processRow(ctx context.Context, row []string, cfg ImportConfig, result *ImportResult) error {
	name := cell(row, cfg.NameColumn)
	if name == "" {
		result.Skipped++
		return nil
	}
	theme := cell(row, cfg.ThemeColumn)
	block := cell(row, cfg.BlockColumn)

	concept := models.Concept{
		ID:        conceptID(block, theme, name),
		Name:      name,
		ThemeID:   stableID("theme", theme),
		ThemeName: theme,
		BlockID:   stableID("block", block),
		BlockName: block,
	}

	conceptRepo := database.NewConceptRepository()
	created, err := conceptRepo.Upsert(ctx, &concept)
	if err != nil {
		return err
	}
	if created {
		result.Created++
	} else {
		result.Updated++
	}

	if raw := cell(row, cfg.DifficultyColumn); raw != "" {
		rating, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("bad difficulty %q: %w", raw, err)
		}
		if rating < 0 || rating > 100 {
			return fmt.Errorf("difficulty %v outside the 0-100 scale", rating)
		}
		diffRepo := database.NewConceptDifficultyRepository()
		if _, err := diffRepo.Get(ctx, concept.ID); err == nil {
			// Already calibrated from real attempts; a catalog seed must not
			// reset a refined rating.
			return nil
		}
		seed := models.ConceptDifficulty{ConceptID: concept.ID, Rating: rating}
		if err := diffRepo.Create(ctx, database.DB, &seed); err != nil {
			return err
		}
		result.Seeded++
	}
	return nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// conceptID derives a stable id from the catalog coordinates so repeated
// imports address the same rows.
func conceptID(block, theme, name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(block+"/"+theme+"/"+name))
}

func stableID(kind, name string) uuid.UUID {
	if name == "" {
		return uuid.Nil
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+":"+name))
}
