// Command docstore-demo is a runnable walkthrough of the document store:
// it opens a Store against a temp file, seeds the "people" collection,
// and runs the numbered scenarios through it, printing outcomes as it
// goes. Grounded on the teacher's habit (modern_demo.go) of pairing each
// API surface with a small worked example, driving this module's own
// Store/Collection API instead of ModernMGO.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/kinfkong/docstore"
)

func main() {
	dir, err := os.MkdirTemp("", "docstore-demo")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := docstore.Open(filepath.Join(dir, "demo.sqlite"), docstore.Options{})
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	people, err := store.GetCollection("people")
	if err != nil {
		log.Fatalf("get collection: %v", err)
	}

	seed := []docstore.Document{
		{"firstname": "Maggie", "lastname": "Simpson", "hobbies": []interface{}{"dummies"}},
		{"firstname": "Bart", "lastname": "Simpson", "hobbies": []interface{}{"skateboarding", "boxcar racing", "annoying Homer"}, "age": 10},
		{"firstname": "Marge", "lastname": "Simpson"},
		{"firstname": "Homer", "lastname": "Simpson", "hobbies": []interface{}{"drinking", "gambling", "boxcar racing"}},
		{"firstname": "Lisa", "lastname": "Simpson", "hobbies": []interface{}{"tai chi", "chai tea", "annoying Homer"}},
		{"firstname": "Lisa", "lastname": "Kudrow"},
	}
	if err := people.InsertMany(ctx, seed); err != nil {
		log.Fatalf("seed people: %v", err)
	}

	// 1. Simple and compound equality.
	lisas, err := people.Find(docstore.Document{"firstname": "Lisa"}).All(ctx)
	must(err)
	fmt.Printf("1a. firstname=Lisa -> %d docs\n", len(lisas))

	lisaSimpsons, err := people.Find(docstore.Document{"firstname": "Lisa", "lastname": "Simpson"}).All(ctx)
	must(err)
	fmt.Printf("1b. firstname=Lisa,lastname=Simpson -> %d docs\n", len(lisaSimpsons))

	// 2. $or.
	orDocs, err := people.Find(docstore.Document{
		"$or": []interface{}{
			docstore.Document{"firstname": "Lisa"},
			docstore.Document{"lastname": "Simpson"},
		},
	}).All(ctx)
	must(err)
	fmt.Printf("2. firstname=Lisa or lastname=Simpson -> %d docs\n", len(orDocs))

	// 3. Array containment via an array index.
	must(people.EnsureArrayIndex(ctx, "hobbies", "ASC"))
	annoyingHomer, err := people.Find(docstore.Document{
		"hobbies": docstore.Document{"$in": []interface{}{"annoying Homer"}},
	}).All(ctx)
	must(err)
	fmt.Printf("3a. hobbies $in [annoying Homer] -> %d docs\n", len(annoyingHomer))

	racers, err := people.Find(docstore.Document{
		"hobbies": docstore.Document{"$in": []interface{}{"annoying Homer", "boxcar racing"}},
	}).All(ctx)
	must(err)
	fmt.Printf("3b. hobbies $in [annoying Homer, boxcar racing] -> %d docs\n", len(racers))

	// 4. $inc.
	_, err = people.Update(ctx,
		docstore.Document{"firstname": "Bart"},
		docstore.Document{"$inc": docstore.Document{"age": 1}},
		docstore.UpdateOptions{})
	must(err)
	bart, err := people.FindOne(ctx, docstore.Document{"firstname": "Bart"})
	must(err)
	fmt.Printf("4a. Bart age after +1 -> %v\n", bart["age"])

	_, err = people.Update(ctx,
		docstore.Document{"firstname": "Bart"},
		docstore.Document{"$inc": docstore.Document{"age": -10}},
		docstore.UpdateOptions{})
	must(err)
	bart, err = people.FindOne(ctx, docstore.Document{"firstname": "Bart"})
	must(err)
	fmt.Printf("4b. Bart age after -10 -> %v\n", bart["age"])

	// 5. Upsert, then $push onto the upserted document.
	_, err = people.Update(ctx,
		docstore.Document{"firstname": "Ned", "lastname": "Flanders"},
		docstore.Document{"$push": docstore.Document{"hobbies": "church"}},
		docstore.UpdateOptions{Upsert: true})
	must(err)
	_, err = people.Update(ctx,
		docstore.Document{"firstname": "Ned", "lastname": "Flanders"},
		docstore.Document{"$push": docstore.Document{"hobbies": "gardening"}},
		docstore.UpdateOptions{Upsert: true})
	must(err)
	nedCount, err := people.Count(ctx, docstore.Document{"firstname": "Ned"})
	must(err)
	ned, err := people.FindOne(ctx, docstore.Document{"firstname": "Ned"})
	must(err)
	fmt.Printf("5. Ned count -> %d, hobbies -> %v\n", nedCount, ned["hobbies"])

	// 6. Boolean / missing-field equality.
	flags, err := store.GetCollection("flags")
	must(err)
	must(flags.InsertMany(ctx, []docstore.Document{
		{"boolitem": true},
		{"boolitem": false},
		{"something": "foo"},
	}))
	trueCount, err := flags.Count(ctx, docstore.Document{"boolitem": true})
	must(err)
	falseCount, err := flags.Count(ctx, docstore.Document{"boolitem": false})
	must(err)
	nullCount, err := flags.Count(ctx, docstore.Document{"boolitem": nil})
	must(err)
	fmt.Printf("6. boolitem true/false/null counts -> %d/%d/%d\n", trueCount, falseCount, nullCount)

	// 7. Delete, scoped then unscoped.
	_, err = people.Delete(ctx, docstore.Document{"lastname": "Simpson"}, docstore.DeleteOptions{JustOne: true})
	must(err)
	remaining, err := people.Count(ctx, docstore.Document{"lastname": "Simpson"})
	must(err)
	fmt.Printf("7a. Simpsons remaining after justOne delete -> %d\n", remaining)

	info, err := people.Delete(ctx, docstore.Document{"lastname": "Simpson"}, docstore.DeleteOptions{})
	must(err)
	fmt.Printf("7b. removed remaining Simpsons -> %d\n", info.Removed)

	// 8. $like / $not.
	mNames, err := people.Find(docstore.Document{"firstname": docstore.Document{"$like": "M%"}}).All(ctx)
	must(err)
	fmt.Printf("8a. firstname like M%% -> %d docs\n", len(mNames))

	notMNames, err := people.Find(docstore.Document{
		"firstname": docstore.Document{"$not": docstore.Document{"$like": "M%"}},
	}).All(ctx)
	must(err)
	fmt.Printf("8b. firstname not like M%% -> %d docs\n", len(notMNames))
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
