package docstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kinfkong/docstore"
	. "gopkg.in/check.v1"
)

func TestGocheck(t *testing.T) { TestingT(t) }

type ArrayIndexSuite struct {
	store *docstore.Store
	coll  *docstore.Collection
}

var _ = Suite(&ArrayIndexSuite{})

func (s *ArrayIndexSuite) SetUpTest(c *C) {
	store, err := docstore.Open(filepath.Join(c.MkDir(), "test.sqlite"), docstore.Options{})
	c.Assert(err, IsNil)
	s.store = store

	coll, err := store.GetCollection("members")
	c.Assert(err, IsNil)
	s.coll = coll

	c.Assert(coll.EnsureArrayIndex(context.Background(), "roles", "ASC"), IsNil)
}

func (s *ArrayIndexSuite) TearDownTest(c *C) {
	c.Assert(s.store.Close(), IsNil)
}

func (s *ArrayIndexSuite) seed(c *C, n int, roles ...interface{}) {
	ctx := context.Background()
	for i := 0; i < n; i++ {
		c.Assert(s.coll.Insert(ctx, docstore.Document{"roles": append([]interface{}{}, roles...)}), IsNil)
	}
}

func (s *ArrayIndexSuite) TestInsertPopulatesSideTable(c *C) {
	s.seed(c, 3, "admin", "viewer")
	s.seed(c, 2, "viewer")

	n, err := s.coll.Count(context.Background(), docstore.Document{
		"roles": docstore.Document{"$in": []interface{}{"admin"}},
	})
	c.Assert(err, IsNil)
	c.Check(n, Equals, 3)
}

func (s *ArrayIndexSuite) TestUpdateRewritesSideTableRows(c *C) {
	ctx := context.Background()
	s.seed(c, 1, "admin")

	docs, err := s.coll.Find(nil).All(ctx)
	c.Assert(err, IsNil)
	c.Assert(docs, HasLen, 1)
	id := docs[0]["_id"]

	_, err = s.coll.Update(ctx, docstore.Document{"_id": id},
		docstore.Document{"$set": docstore.Document{"roles": []interface{}{"viewer"}}}, docstore.UpdateOptions{})
	c.Assert(err, IsNil)

	n, err := s.coll.Count(ctx, docstore.Document{"roles": docstore.Document{"$in": []interface{}{"admin"}}})
	c.Assert(err, IsNil)
	c.Check(n, Equals, 0)

	n, err = s.coll.Count(ctx, docstore.Document{"roles": docstore.Document{"$in": []interface{}{"viewer"}}})
	c.Assert(err, IsNil)
	c.Check(n, Equals, 1)
}

func (s *ArrayIndexSuite) TestDeleteRemovesSideTableRows(c *C) {
	ctx := context.Background()
	s.seed(c, 1, "admin")

	_, err := s.coll.Delete(ctx, docstore.Document{"roles": docstore.Document{"$in": []interface{}{"admin"}}}, docstore.DeleteOptions{})
	c.Assert(err, IsNil)

	n, err := s.coll.Count(ctx, docstore.Document{"roles": docstore.Document{"$in": []interface{}{"admin"}}})
	c.Assert(err, IsNil)
	c.Check(n, Equals, 0)
}

func (s *ArrayIndexSuite) TestEnsureArrayIndexSecondCallIsNoop(c *C) {
	err := s.coll.EnsureArrayIndex(context.Background(), "roles", "ASC")
	c.Assert(err, IsNil)
}
