package library

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestFacts(t *testing.T) {
	Convey("Fact store", t, func() {
		s, _ := openTestStore(t, &fakeSource{})

		_, err := s.AssertFact("ep-1", "rating", "4")
		So(err, ShouldBeNil)
		_, err = s.AssertFact("ep-2", "rating", "2")
		So(err, ShouldBeNil)
		_, err = s.AssertFact("ep-1", "note", "great intro")
		So(err, ShouldBeNil)
		last, err := s.AssertFact("ep-1", "rating", "5")
		So(err, ShouldBeNil)

		Convey("Should number assertions in order", func() {
			So(last.Tx, ShouldEqual, uint64(4))
			So(last.Time.IsZero(), ShouldBeFalse)
		})

		Convey("Should query by entity", func() {
			got, err := s.Facts(FactFilter{Entity: "ep-1"})
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 3)
			So(got[0].Value, ShouldEqual, "4")
			So(got[2].Value, ShouldEqual, "5")
		})

		Convey("Should query by attribute", func() {
			got, err := s.Facts(FactFilter{Attribute: "rating"})
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 3)
		})

		Convey("Should keep only the newest value when asked", func() {
			got, err := s.Facts(FactFilter{Attribute: "rating", Latest: true})
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 2)
			So(got[0].Entity, ShouldEqual, "ep-2")
			So(got[1].Entity, ShouldEqual, "ep-1")
			So(got[1].Value, ShouldEqual, "5")
		})

		Convey("Should reject incomplete assertions", func() {
			_, err := s.AssertFact("ep-1", " ", "x")
			So(err, ShouldEqual, ErrFactIncomplete)

			all, err := s.Facts(FactFilter{})
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, 4)
		})
	})
}
