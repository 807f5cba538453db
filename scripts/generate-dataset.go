//go:build ignore

// Package main generates a synthetic seed file for load testing.
// Usage: go run scripts/generate-dataset.go -appointments 10000 -output testdata/load.yaml
//
// Load it with `apptindex import testdata/load.yaml`.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/apptindex/internal/seed"
	"github.com/Aman-CERP/apptindex/internal/source"
)

var (
	numAppointments = flag.Int("appointments", 1000, "Number of appointments to generate")
	numForms        = flag.Int("forms", 12, "Number of forms")
	outputFile      = flag.String("output", "testdata/load.yaml", "Output file")
	randSeed        = flag.Int64("seed", 42, "Random seed for reproducibility")
	cancelRate      = flag.Float64("cancelled", 0.1, "Fraction of cancelled appointments")
	startDay        = flag.String("from", "2024-01-01", "First day of the generated calendar")
	days            = flag.Int("days", 180, "Number of days appointments are spread over")
)

var firstNames = []string{
	"Ada", "Alan", "Grace", "Katherine", "Edsger", "Barbara", "Donald", "Margaret",
	"Dennis", "Frances", "John", "Radia", "Ken", "Hedy", "Tim", "Sophie",
}

var lastNames = []string{
	"Lovelace", "Turing", "Hopper", "Johnson", "Dijkstra", "Liskov", "Knuth", "Hamilton",
	"Ritchie", "Allen", "McCarthy", "Perlman", "Thompson", "Lamarr", "Berners-Lee", "Wilson",
}

var formTitles = []string{
	"Passport renewal", "Identity card", "Residence permit", "Driving licence",
	"Civil wedding", "Birth certificate", "Voter registration", "Parking permit",
}

var categories = []source.Category{
	{ID: 1, Label: "Civil status"},
	{ID: 2, Label: "Immigration"},
	{ID: 3, Label: "Transport"},
}

var states = []source.State{
	{ID: 1, WorkflowID: 1, Name: "Booked"},
	{ID: 2, WorkflowID: 1, Name: "Confirmed"},
	{ID: 3, WorkflowID: 1, Name: "Done"},
}

func main() {
	flag.Parse()

	first, err := time.ParseInLocation(time.DateOnly, *startDay, time.UTC)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid -from: %v\n", err)
		os.Exit(1)
	}
	if *numAppointments <= 0 || *numForms <= 0 || *days <= 0 {
		fmt.Fprintln(os.Stderr, "-appointments, -forms and -days must be positive")
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*randSeed))
	ds := &seed.Dataset{Categories: categories, States: states}

	for i := 0; i < *numForms; i++ {
		f := source.Form{
			ID:         i + 1,
			Title:      fmt.Sprintf("%s %d", formTitles[i%len(formTitles)], i/len(formTitles)+1),
			CategoryID: categories[i%len(categories)].ID,
		}
		// every other form runs the workflow
		if i%2 == 0 {
			f.WorkflowID = 1
		}
		ds.Forms = append(ds.Forms, f)
	}

	for i := 0; i < *numAppointments; i++ {
		ds.Appointments = append(ds.Appointments, generateAppointment(rng, ds.Forms, first, i+1))
	}

	if err := ds.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Generated dataset is invalid: %v\n", err)
		os.Exit(1)
	}

	data, err := yaml.Marshal(ds)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding dataset: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(*outputFile), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outputFile, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *outputFile, err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d appointments over %d forms in %s\n", *numAppointments, *numForms, *outputFile)
}

func generateAppointment(rng *rand.Rand, forms []source.Form, first time.Time, id int) seed.Appointment {
	form := forms[rng.Intn(len(forms))]
	firstName := firstNames[rng.Intn(len(firstNames))]
	lastName := lastNames[rng.Intn(len(lastNames))]

	// Slots are quarter hours between 08:00 and 17:45.
	day := first.AddDate(0, 0, rng.Intn(*days))
	start := day.Add(8*time.Hour + time.Duration(rng.Intn(40))*15*time.Minute)
	length := time.Duration(1+rng.Intn(4)) * 15 * time.Minute

	a := seed.Appointment{
		ID:        id,
		Form:      form.ID,
		FirstName: firstName,
		LastName:  lastName,
		Email:     fmt.Sprintf("%s.%s%d@example.org", strings.ToLower(firstName), strings.ToLower(lastName), id),
		Phone:     fmt.Sprintf("06%08d", rng.Intn(100000000)),
		Start:     start,
		End:       start.Add(length),
		Cancelled: rng.Float64() < *cancelRate,
		Seats:     1 + rng.Intn(3),
		Taken:     start.AddDate(0, 0, -1-rng.Intn(30)),
	}
	if form.WorkflowID > 0 {
		a.State = states[rng.Intn(len(states))].ID
	}
	return a
}
