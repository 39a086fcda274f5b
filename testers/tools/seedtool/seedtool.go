package main

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"

	"github.com/fatih/color"
	"github.com/go-faker/faker/v4"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

const createPayments = `CREATE TABLE IF NOT EXISTS paymentinformation (
	id SERIAL PRIMARY KEY,
	fiscal_year INTEGER NOT NULL,
	fiscal_month INTEGER NOT NULL,
	agency_number INTEGER,
	agency_title TEXT,
	appropriation_number INTEGER,
	appropriation_title TEXT,
	appropriation_year INTEGER,
	fund_number INTEGER,
	fund_title TEXT,
	object_number INTEGER,
	object_title TEXT,
	program_cost_account TEXT,
	vendor_number TEXT,
	vendor_name TEXT,
	mail_code TEXT,
	amount_payed NUMERIC(14,2),
	revision_indicator TEXT,
	confidential TEXT
)`

const createContracts = `CREATE TABLE IF NOT EXISTS contractinfo (
	id SERIAL PRIMARY KEY,
	fiscal_year INTEGER NOT NULL,
	agency_number INTEGER,
	agency_title TEXT,
	contract_number TEXT,
	vendor_number TEXT,
	vendor_name TEXT,
	category TEXT,
	procurement_method TEXT,
	status TEXT,
	subject TEXT,
	start_date DATE,
	end_date DATE,
	contract_value NUMERIC(14,2)
)`

var agencies = []string{
	"Comptroller of Public Accounts",
	"Department of Transportation",
	"Health and Human Services Commission",
	"Parks and Wildlife Department",
	"Department of Public Safety",
}

var statuses = []string{"Active", "Completed", "Terminated"}

type vendorSeed struct {
	Name string `faker:"name"`
	City string `faker:"word"`
}

func main() {
	root := &cobra.Command{
		Use:   "seedtool",
		Short: "Treasury table seeder",
		Long:  "Creates the payment and contract tables and fills them with synthetic rows for local testing.",
	}

	var (
		connStr   string
		payments  int
		contracts int
	)

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Create tables and insert synthetic rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := sql.Open("postgres", connStr)
			if err != nil {
				return fmt.Errorf("DB open error: %w", err)
			}
			defer func() {
				if err := db.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to close DB connection: %v\n", err)
				}
			}()

			for _, ddl := range []string{createPayments, createContracts} {
				if _, err := db.Exec(ddl); err != nil {
					return fmt.Errorf("table creation error: %w", err)
				}
			}
			color.Green("Tables ready.")

			for i := 0; i < payments; i++ {
				if err := insertPayment(db); err != nil {
					return fmt.Errorf("payment insert error: %w", err)
				}
			}
			color.Green("Inserted %d payment rows.", payments)

			for i := 0; i < contracts; i++ {
				if err := insertContract(db, i); err != nil {
					return fmt.Errorf("contract insert error: %w", err)
				}
			}
			color.Green("Inserted %d contract rows.", contracts)

			color.Cyan("Run ANALYZE for realistic count estimates:")
			fmt.Println("  ANALYZE paymentinformation; ANALYZE contractinfo;")
			return nil
		},
	}

	seedCmd.Flags().StringVar(&connStr, "conn", "postgres://tq:tq@localhost:5432/treasury?sslmode=disable", "PostgreSQL connection string")
	seedCmd.Flags().IntVar(&payments, "payments", 1000, "Payment rows to insert")
	seedCmd.Flags().IntVar(&contracts, "contracts", 200, "Contract rows to insert")

	root.AddCommand(seedCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func insertPayment(db *sql.DB) error {
	var v vendorSeed
	if err := faker.FakeData(&v); err != nil {
		return err
	}
	_, err := db.Exec(`INSERT INTO paymentinformation
		(fiscal_year, fiscal_month, agency_number, agency_title, appropriation_title, fund_title, object_title, vendor_number, vendor_name, amount_payed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		2018+rand.Intn(8), 1+rand.Intn(12), 100+rand.Intn(50),
		agencies[rand.Intn(len(agencies))],
		fmt.Sprintf("Appropriation %d", rand.Intn(20)),
		fmt.Sprintf("Fund %d", rand.Intn(30)),
		fmt.Sprintf("Object %d", rand.Intn(15)),
		fmt.Sprintf("V%06d", rand.Intn(1_000_000)),
		v.Name,
		float64(rand.Intn(5_000_000))/100,
	)
	return err
}

func insertContract(db *sql.DB, i int) error {
	var v vendorSeed
	if err := faker.FakeData(&v); err != nil {
		return err
	}
	_, err := db.Exec(`INSERT INTO contractinfo
		(fiscal_year, agency_number, agency_title, contract_number, vendor_name, category, procurement_method, status, subject, start_date, contract_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		2018+rand.Intn(8), 100+rand.Intn(50),
		agencies[rand.Intn(len(agencies))],
		fmt.Sprintf("CN-%06d", i),
		v.Name,
		fmt.Sprintf("Category %d", rand.Intn(6)),
		"Competitive Bid",
		statuses[rand.Intn(len(statuses))],
		fmt.Sprintf("Services for %s", v.City),
		fmt.Sprintf("20%02d-%02d-01", 18+rand.Intn(8), 1+rand.Intn(12)),
		float64(rand.Intn(100_000_000))/100,
	)
	return err
}
