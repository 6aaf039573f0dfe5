package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"makercalc/internal/apperr"
	"makercalc/internal/config"
	"makercalc/internal/db"
	applog "makercalc/internal/log"
	"makercalc/internal/plans"
	"makercalc/internal/service"
	"makercalc/models"
)

type summary struct {
	Imported int
	Skipped  int
	Limited  bool
}

func main() {
	email := flag.String("email", strings.TrimSpace(os.Getenv("MAKERCALC_IMPORT_OWNER_EMAIL")), "owner of the imported materials, defaults to the first user")
	flag.Parse()

	csvPath := "materials.csv"
	if flag.NArg() > 0 {
		csvPath = flag.Arg(0)
	}

	if err := run(context.Background(), csvPath, *email); err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, csvPath, email string) error {
	if strings.TrimSpace(csvPath) == "" {
		return fmt.Errorf("csv path must not be empty")
	}

	file, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applog.SetLevel(cfg.Logging.Level); err != nil {
		return err
	}

	database, err := db.Configure(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	catalog, err := plans.Load(cfg.Plans.File)
	if err != nil {
		return err
	}
	svc := service.New(database, service.Options{Plans: catalog})

	ownerID, err := resolveImportOwner(ctx, database, email)
	if err != nil {
		return fmt.Errorf("resolve owner: %w", err)
	}

	result, err := importMaterials(ctx, svc, ownerID, file)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Imported %d materials from %s (%d skipped)\n", result.Imported, filepath.Base(csvPath), result.Skipped)
	if result.Limited {
		fmt.Fprintln(os.Stdout, "Stopped early: the plan material limit was reached")
	}
	return nil
}

func resolveImportOwner(ctx context.Context, database *gorm.DB, email string) (uint, error) {
	if database == nil {
		return 0, fmt.Errorf("database handle is nil")
	}

	var user models.User
	email = strings.ToLower(strings.TrimSpace(email))
	if email != "" {
		if err := database.WithContext(ctx).Where("lower(email) = ?", email).First(&user).Error; err != nil {
			return 0, fmt.Errorf("find owner by email %q: %w", email, err)
		}
		return user.ID, nil
	}

	if err := database.WithContext(ctx).Order("id asc").First(&user).Error; err != nil {
		return 0, fmt.Errorf("find default owner: %w", err)
	}
	return user.ID, nil
}

// importMaterials creates one material per CSV row. Rows whose name already
// exists are skipped. Categories and vendors are matched by name and created
// when missing. The import stops at the first row rejected by the plan.
func importMaterials(ctx context.Context, svc *service.Service, ownerID uint, r io.Reader) (summary, error) {
	var result summary

	records, err := readCSV(r)
	if err != nil {
		return result, fmt.Errorf("read csv: %w", err)
	}

	categories := map[string]uint{}
	vendors := map[string]uint{}

	for idx, record := range records {
		name := record["name"]
		if name == "" {
			result.Skipped++
			continue
		}

		if _, found, err := svc.FindMaterialByName(ctx, ownerID, name); err != nil {
			return result, fmt.Errorf("record %d (%s): %w", idx+1, name, err)
		} else if found {
			applog.Debug(ctx, "material already exists, skipping", "name", name)
			result.Skipped++
			continue
		}

		in, err := buildMaterial(record)
		if err != nil {
			applog.Warn(ctx, "skipping material row", "row", idx+1, "name", name, "error", err)
			result.Skipped++
			continue
		}

		if category := record["category"]; category != "" {
			id, err := resolveCategory(ctx, svc, ownerID, category, categories)
			if err != nil {
				if apperr.IsQuotaExceeded(err) {
					result.Limited = true
					return result, nil
				}
				return result, fmt.Errorf("record %d (%s): %w", idx+1, name, err)
			}
			in.CategoryID = &id
		}
		if vendor := record["vendor"]; vendor != "" {
			id, err := resolveVendor(ctx, svc, ownerID, vendor, vendors)
			if err != nil {
				if apperr.IsQuotaExceeded(err) {
					result.Limited = true
					return result, nil
				}
				return result, fmt.Errorf("record %d (%s): %w", idx+1, name, err)
			}
			in.VendorID = &id
		}

		if _, err := svc.CreateMaterial(ctx, ownerID, in); err != nil {
			switch {
			case apperr.IsQuotaExceeded(err):
				result.Limited = true
				return result, nil
			case apperr.IsValidation(err):
				applog.Warn(ctx, "skipping material row", "row", idx+1, "name", name, "error", err)
				result.Skipped++
				continue
			}
			return result, fmt.Errorf("record %d (%s): %w", idx+1, name, err)
		}
		result.Imported++
	}

	return result, nil
}

func resolveCategory(ctx context.Context, svc *service.Service, ownerID uint, name string, cache map[string]uint) (uint, error) {
	key := strings.ToLower(name)
	if id, ok := cache[key]; ok {
		return id, nil
	}
	category, found, err := svc.FindCategoryByName(ctx, ownerID, name)
	if err != nil {
		return 0, err
	}
	if !found {
		category, err = svc.CreateCategory(ctx, ownerID, service.CategoryInput{Name: name})
		if err != nil {
			return 0, err
		}
	}
	cache[key] = category.ID
	return category.ID, nil
}

func resolveVendor(ctx context.Context, svc *service.Service, ownerID uint, name string, cache map[string]uint) (uint, error) {
	key := strings.ToLower(name)
	if id, ok := cache[key]; ok {
		return id, nil
	}
	vendor, found, err := svc.FindVendorByName(ctx, ownerID, name)
	if err != nil {
		return 0, err
	}
	if !found {
		vendor, err = svc.CreateVendor(ctx, ownerID, service.VendorInput{Name: name})
		if err != nil {
			return 0, err
		}
	}
	cache[key] = vendor.ID
	return vendor.ID, nil
}

// readCSV returns the rows keyed by their lower-cased header.
func readCSV(r io.Reader) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, errors.New("csv is empty")
	}

	header := make([]string, len(rows[0]))
	for idx, key := range rows[0] {
		header[idx] = strings.ToLower(strings.TrimSpace(key))
	}

	records := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}

		record := make(map[string]string, len(header))
		for idx, key := range header {
			if idx >= len(row) {
				continue
			}
			record[key] = strings.TrimSpace(row[idx])
		}
		records = append(records, record)
	}

	return records, nil
}

func buildMaterial(row map[string]string) (service.MaterialInput, error) {
	totalCost, err := parseDecimal(row["total_cost"], "total_cost")
	if err != nil {
		return service.MaterialInput{}, err
	}
	quantity, err := parseDecimal(row["quantity"], "quantity")
	if err != nil {
		return service.MaterialInput{}, err
	}

	return service.MaterialInput{
		Name:      row["name"],
		SKU:       row["sku"],
		TotalCost: totalCost,
		Quantity:  quantity,
		Unit:      row["unit"],
		Notes:     row["notes"],
	}, nil
}

func parseDecimal(value, field string) (decimal.Decimal, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "$")
	value = strings.ReplaceAll(value, ",", "")
	if value == "" {
		return decimal.Zero, nil
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q is not a number", field, value)
	}
	return parsed, nil
}
