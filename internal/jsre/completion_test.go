// Copyright 2023 The usbsh Authors
// This file is part of the usbsh library.
//
// The usbsh library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The usbsh library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the usbsh library. If not, see <http://www.gnu.org/licenses/>.

package jsre

import (
	"os"
	"reflect"
	"testing"
)

func TestCompleteKeywords(t *testing.T) {
	re := New("", os.Stdout)
	defer re.Stop(false)

	re.Run(`
		function Mirror(bus, port) {
			this.bus = bus;
			this.port = port;
		}
		Mirror.prototype.send = function () {};
		var dm = new Mirror(1, 4);
		var backup = new Mirror(2, 1);
		backup.send = function patched() {};
	`)

	var tests = []struct {
		input string
		want  []string
	}{
		{
			input: "dm",
			want:  []string{"dm."},
		},
		{
			input: "dm.send",
			want:  []string{"dm.send("},
		},
		{
			input: "dm.bu",
			want:  []string{"dm.bus"},
		},
		{
			input: "dm.",
			want: []string{
				"dm.bus",
				"dm.constructor",
				"dm.port",
				"dm.send",
			},
		},
		{
			input: "backup.",
			want: []string{
				"backup.bus",
				"backup.constructor",
				"backup.port",
				"backup.send",
			},
		},
		{
			input: "unplugged.",
			want:  nil,
		},
	}
	for _, test := range tests {
		cs := re.CompleteKeywords(test.input)
		if !reflect.DeepEqual(cs, test.want) {
			t.Errorf("failed on line %s: got %v, want %v", test.input, cs, test.want)
		}
	}
}
