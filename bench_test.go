package grove

import (
	"context"
	"strconv"
	"testing"
)

func benchmarkStdMapInsert(factor int, b *testing.B) {
	m := map[string]string{}
	for n := 0; n < factor*b.N; n++ {
		k := strconv.Itoa(n)
		m[k] = k
	}
}

func BenchmarkStdMapInsert1(b *testing.B)   { benchmarkStdMapInsert(1, b) }
func BenchmarkStdMapInsert10(b *testing.B)  { benchmarkStdMapInsert(10, b) }
func BenchmarkStdMapInsert100(b *testing.B) { benchmarkStdMapInsert(100, b) }
func BenchmarkStdMapInsert1k(b *testing.B)  { benchmarkStdMapInsert(1_000, b) }
func BenchmarkStdMapInsert10k(b *testing.B) { benchmarkStdMapInsert(10_000, b) }

func benchmarkTreeAdd(factor int, b *testing.B) {
	ctx := context.Background()
	tree := NewInMemoryDB().EmptyTree()
	var err error
	for n := 0; n < factor*b.N; n++ {
		k := strconv.Itoa(n)
		tree, err = tree.Add(ctx, Path{k}, k)
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTreeAdd1(b *testing.B)   { benchmarkTreeAdd(1, b) }
func BenchmarkTreeAdd10(b *testing.B)  { benchmarkTreeAdd(10, b) }
func BenchmarkTreeAdd100(b *testing.B) { benchmarkTreeAdd(100, b) }
func BenchmarkTreeAdd1k(b *testing.B)  { benchmarkTreeAdd(1_000, b) }
func BenchmarkTreeAdd10k(b *testing.B) { benchmarkTreeAdd(10_000, b) }

func benchmarkTreeFind(factor int, b *testing.B) {
	ctx := context.Background()
	tree := NewInMemoryDB().EmptyTree()
	var err error
	b.StopTimer()
	for n := 0; n < factor*b.N; n++ {
		k := strconv.Itoa(n)
		tree, err = tree.Add(ctx, Path{k}, k)
		if err != nil {
			b.Fatal(err)
		}
	}
	b.StartTimer()
	for n := 0; n < factor*b.N; n++ {
		_, _, err = tree.Find(ctx, Path{strconv.Itoa(n)})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTreeFind1(b *testing.B)   { benchmarkTreeFind(1, b) }
func BenchmarkTreeFind10(b *testing.B)  { benchmarkTreeFind(10, b) }
func BenchmarkTreeFind100(b *testing.B) { benchmarkTreeFind(100, b) }
func BenchmarkTreeFind1k(b *testing.B)  { benchmarkTreeFind(1_000, b) }
func BenchmarkTreeFind10k(b *testing.B) { benchmarkTreeFind(10_000, b) }

func benchmarkCommit(paths int, b *testing.B) {
	ctx := context.Background()
	db := NewInMemoryDB()
	tree := db.EmptyTree()
	var err error
	b.StopTimer()
	for n := 0; n < paths; n++ {
		k := strconv.Itoa(n)
		tree, err = tree.Add(ctx, Path{"dir", k}, k)
		if err != nil {
			b.Fatal(err)
		}
	}
	b.StartTimer()
	var parents []Key
	for n := 0; n < b.N; n++ {
		head, err := db.Commit(ctx, tree, parents, CommitInfo{Message: strconv.Itoa(n)})
		if err != nil {
			b.Fatal(err)
		}
		parents = []Key{head}
	}
}

func BenchmarkCommit10(b *testing.B)  { benchmarkCommit(10, b) }
func BenchmarkCommit100(b *testing.B) { benchmarkCommit(100, b) }
func BenchmarkCommit1k(b *testing.B)  { benchmarkCommit(1_000, b) }
