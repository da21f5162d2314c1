/*
 * Copyright 2014 Canonical Ltd.
 *
 * This file is part of mmsd.
 *
 * mmsd is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation; version 3.
 *
 * mmsd is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package storage

import "fmt"

// Multierror collects the failures of a cleanup that keeps going after
// the first error.
type Multierror []error

func (me Multierror) Error() string {
	if len(me) == 0 {
		panic("empty multierror")
	}

	if len(me) == 1 {
		return me[0].Error()
	}

	return fmt.Sprintf("multiple errors: %v", []error(me))
}

func (me Multierror) Unwrap() []error {
	return me
}

func (me Multierror) Result() error {
	if len(me) > 0 {
		return me
	}

	return nil
}

type ErrorRemovingFile struct {
	File string
	Err  error
}

func (e ErrorRemovingFile) Error() string {
	return fmt.Sprintf("error removing %s: %v", e.File, e.Err)
}

func (e ErrorRemovingFile) Unwrap() error {
	return e.Err
}
