// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cleanup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCleanup(t *testing.T) {
	for _, tc := range []struct {
		name    string
		release bool
		want    []string
	}{
		{name: "clean", want: []string{"unmap rom", "unmap ram", "release table"}},
		{name: "release", release: true, want: nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var got []string
			step := func(s string) func() {
				return func() { got = append(got, s) }
			}
			func() {
				cu := Make(step("release table"))
				defer cu.Clean()
				cu.Add(step("unmap ram"))
				cu.Add(step("unmap rom"))
				if tc.release {
					cu.Release()
				}
			}()
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("cleanup steps mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReleaseReturnsCleaners(t *testing.T) {
	calls := 0
	var cu Cleanup
	cu.Add(func() { calls++ })
	cu.Add(func() { calls++ })

	cleaner := cu.Release()
	cu.Clean()
	if calls != 0 {
		t.Fatalf("Clean() after Release() ran %d functions, want: 0", calls)
	}
	cleaner()
	if calls != 2 {
		t.Errorf("released cleaner ran %d functions, want: 2", calls)
	}
}

func TestCleanTwice(t *testing.T) {
	calls := 0
	cu := Make(func() { calls++ })
	cu.Clean()
	cu.Clean()
	if calls != 1 {
		t.Errorf("Clean() twice ran %d functions, want: 1", calls)
	}
}
