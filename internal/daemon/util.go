package daemon

import stderrors "errors"

func stdAs(err error, target any) bool {
	return stderrors.As(err, target)
}
