package api

import (
	"context"
	"fmt"
	"net/http"
)

// DeleteCharacter вызывает DELETE /characters/{id}. Если персонаж используется в книгах,
// сервер отвечает ошибкой с ConfirmationRequired, и вызов нужно повторить с force.
func (c *Client) DeleteCharacter(ctx context.Context, id int64, force bool) error {
	path := fmt.Sprintf("/characters/%d", id)
	if force {
		path += "?force=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}
