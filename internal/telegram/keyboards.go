package telegram

import "github.com/go-telegram/bot/models"

// LinkedKeyboard offers to switch alerts off for a linked shop
func LinkedKeyboard(code string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🔕 Stop alerts", CallbackData: "unlink:" + code},
			},
		},
	}
}
