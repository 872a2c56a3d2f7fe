package delivery

import "github.com/go-telegram/bot/models"

// BuildInlineKeyboard stacks buttons one per row. Returns nil for no buttons.
func BuildInlineKeyboard(buttons []Button) *models.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]models.InlineKeyboardButton, 0, len(buttons))
	for _, button := range buttons {
		kb := models.InlineKeyboardButton{Text: button.Text}
		if button.URL != "" {
			kb.URL = button.URL
		} else {
			kb.CallbackData = button.CallbackData
		}
		rows = append(rows, []models.InlineKeyboardButton{kb})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
